package report

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/hostkeep/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Write renders rep to w as "text" (the summary) or "json".
func Write(w io.Writer, format string, rep schemas.RunReport) error {
	switch format {
	case "text", "":
		_, err := fmt.Fprintln(w, Format(rep))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteFile writes rep to path, or to stdout when path is empty or "-".
func WriteFile(path, format string, rep schemas.RunReport) error {
	if path == "" || path == "-" {
		return Write(os.Stdout, format, rep)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	if err := Write(f, format, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
