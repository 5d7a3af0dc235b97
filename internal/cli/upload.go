package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/query"
)

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	User string
}

// UploadSummary is the JSON payload of the upload command.
type UploadSummary struct {
	Created  int                  `json:"created"`
	Updated  int                  `json:"updated"`
	Rejected int                  `json:"rejected"`
	Results  []UploadResultOutput `json:"results"`
}

// UploadResultOutput is one uploaded item.
type UploadResultOutput struct {
	ID         string `json:"id,omitempty"`
	PlainText  string `json:"plain_text"`
	Created    bool   `json:"created"`
	Updated    bool   `json:"updated"`
	ParseError string `json:"parse_error,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload [file...]",
		Short: "Add strings to the local pool",
		Long: `Add strings to the local pool.

Each file is either a stringSet document or plain text with one string
per line. Without files, plain text lines are read from stdin.

Examples:
  stringpool upload citations.txt
  stringpool upload export.xml --user curator
  echo "Smith J. A paper. 2001" | stringpool upload`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user recorded as creator (default "+query.DefaultUser+")")

	return cmd
}

func runUpload(opts *UploadOptions, files []string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	ctx := commandContext(cmd)

	var (
		items  []query.UploadItem
		detail string
	)
	if len(files) == 0 {
		parsed, err := readTextItems(cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
		items, detail = parsed, "CLI:stdin"
	} else {
		names := make([]string, len(files))
		for i, path := range files {
			parsed, err := readUploadFile(cmd, path)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", path), err)
			}
			items = append(items, parsed...)
			names[i] = filepath.Base(path)
		}
		detail = "CLI:" + strings.Join(names, ",")
	}

	if len(items) == 0 {
		out.Textf("Nothing to upload.")
		if out.JSON() {
			return out.Success(UploadSummary{Results: []UploadResultOutput{}})
		}
		return nil
	}

	n, err := openNode(opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	results := n.facade.Upload(ctx, items, n.actor(opts.User), detail)

	summary := UploadSummary{Results: make([]UploadResultOutput, len(results))}
	for i, res := range results {
		o := UploadResultOutput{
			ID:         res.ID,
			PlainText:  res.PlainText,
			Created:    res.Created,
			Updated:    res.Updated,
			ParseError: res.ParseError,
		}
		switch {
		case res.Err != nil:
			o.Error = res.Err.Error()
			summary.Rejected++
			out.Warnf("%s  %v", o.PlainText, res.Err)
		case res.Created:
			summary.Created++
			out.VerboseLog("created %s", res.ID)
		case res.Updated:
			summary.Updated++
			out.VerboseLog("updated %s", res.ID)
		}
		if o.ParseError != "" && res.Err == nil {
			out.Warnf("%s  parse error: %s", res.ID, o.ParseError)
		}
		summary.Results[i] = o
	}

	if out.JSON() {
		if err := out.Success(summary); err != nil {
			return err
		}
	} else {
		out.Okf("%d created, %d updated, %d rejected", summary.Created, summary.Updated, summary.Rejected)
	}
	if summary.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d item(s) rejected", summary.Rejected))
	}
	return nil
}

// readUploadFile reads one file: a stringSet document or plain text. "-"
// is stdin.
func readUploadFile(cmd *cobra.Command, path string) ([]query.UploadItem, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if isStringSet(data) {
		return readXMLItems(cmd, data)
	}
	return readTextItems(bytes.NewReader(data))
}

func isStringSet(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<stringSet"))
}

func readXMLItems(cmd *cobra.Command, data []byte) ([]query.UploadItem, error) {
	stream := codec.Decode(commandContext(cmd), bytes.NewReader(data))
	defer stream.Close()
	var items []query.UploadItem
	for stream.Next() {
		rec := stream.Value()
		items = append(items, query.UploadItem{
			PlainText:   rec.PlainText,
			Parsed:      rec.Parsed,
			CanonicalID: rec.CanonicalID,
		})
	}
	return items, stream.Err()
}

func readTextItems(r io.Reader) ([]query.UploadItem, error) {
	var items []query.UploadItem
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			items = append(items, query.UploadItem{PlainText: line})
		}
	}
	return items, sc.Err()
}
