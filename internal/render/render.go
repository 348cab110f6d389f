package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/mgutz/ansi"

	"github.com/rugwirobaker/irrigate/internal/iostreams"
)

var bold = ansi.ColorFunc("default+b")

func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func WriteTable(w io.Writer, title string, rows [][]string, cols ...string) {
	if strings.TrimSpace(title) != "" {
		fmt.Fprintln(w, bold(title))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	for _, column := range cols {
		fmt.Fprintf(tw, "%s\t", strings.ToUpper(column))
	}

	fmt.Fprintln(tw)

	for _, row := range rows {
		for _, value := range row {
			fmt.Fprintf(tw, "%s\t", value)
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintln(tw)
}

func Confirmf(ctx context.Context, format string, a ...interface{}) (bool, error) {
	return Confirm(ctx, fmt.Sprintf(format, a...))
}

func Confirm(ctx context.Context, message string) (confirm bool, err error) {
	var opt survey.AskOpt
	prompt := &survey.Confirm{
		Message: message,
	}

	if opt, err = newSurveyIO(ctx); err != nil {
		return
	}
	err = survey.AskOne(prompt, &confirm, opt)

	return
}

// ErrNonInteractive is returned by Confirm when stdin or stdout is not a
// terminal.
var ErrNonInteractive = fmt.Errorf("non-interactive terminal")

func newSurveyIO(ctx context.Context) (survey.AskOpt, error) {
	io := iostreams.FromContext(ctx)

	in, ok := io.In.(terminal.FileReader)
	if !ok {
		return nil, ErrNonInteractive
	}

	out, ok := io.Out.(terminal.FileWriter)
	if !ok {
		return nil, ErrNonInteractive
	}
	return survey.WithStdio(in, out, io.ErrOut), nil
}
