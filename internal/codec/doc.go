// Package codec reads and writes the XML wire format shared by all pool
// nodes, and bridges its push-style parse into pull-style iterators.
//
// Wire format:
//
//	<stringSet>
//	  <string id="..." canonicalId="..." createTime="ms" ... deleted="false">
//	    <stringPlain>escaped plain text</stringPlain>
//	    <stringParsed>structured representation</stringParsed>
//	  </string>
//	</stringSet>
//
// Feed responses use the same envelope with content-free string elements
// carrying a localUpdateTime attribute.
//
// # Critical Patterns
//
// Streaming decode: Decode runs the token parse in a producer goroutine
// that hands over one record at a time through a single-slot channel and
// then waits until the consumer asks for the next one. Close cancels the
// producer and waits for it, so an abandoned Stream never leaks it.
//
// Opaque structured content: everything inside stringParsed is copied
// through as content, including tags that share names with the envelope.
// The decoder tracks the nesting depth of that region to find its end.
//
// Timestamps are written as epoch milliseconds. HTTP dates are accepted
// when reading, for peers that still send them.
package codec
