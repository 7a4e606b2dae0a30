package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cnc-cam-core/pkg/cam"
	"cnc-cam-core/pkg/config"
	"cnc-cam-core/pkg/design"
	"cnc-cam-core/pkg/gcode"
)

func newGenerateCmd(o *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "generate DESIGN",
		Short: "Generate a G-code program from a design document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := o.machine()
			if err != nil {
				return err
			}
			doc, err := loadDesign(args[0], m)
			if err != nil {
				return err
			}
			res, err := cam.Generate(doc, outputOptions(doc, m))
			if err != nil {
				return err
			}
			if err := writeOutput(output, cmd.OutOrStdout(), res.Program); err != nil {
				return err
			}
			printSummary(cmd.ErrOrStderr(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the program to `file` instead of stdout")
	return cmd
}

// loadDesign reads a document and applies the machine configuration. The
// [tool] and [job] sections override the document when present.
func loadDesign(path string, m *config.MachineConfig) (*design.Document, error) {
	doc, err := design.Load(path)
	if err != nil {
		return nil, err
	}
	if m.Has("tool") {
		doc.Tool = m.Tool
	}
	if m.Has("job") {
		doc.Job = m.Job
	}
	if doc.Stock == nil && m.Stock != nil {
		stock := *m.Stock
		doc.Stock = &stock
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// outputOptions follows the document's units and safe height unless the
// machine configuration has a [job] section.
func outputOptions(doc *design.Document, m *config.MachineConfig) gcode.Options {
	opts := m.Output
	if !m.Has("job") {
		opts.SafeZ = doc.Job.SafeZ
		opts.Units = gcode.Millimetres
		if doc.Job.Units == design.UnitsInch {
			opts.Units = gcode.Inches
		}
	}
	return opts
}

func printSummary(w io.Writer, res *cam.Result) {
	st := newStyle(w)
	sum, err := summarize(res.Program)
	if err != nil {
		fmt.Fprintf(w, "%s program check failed: %v\n", st.bad("!"), err)
		return
	}
	toolpaths := fmt.Sprintf("%d toolpaths", len(res.Toolpaths))
	if len(res.Toolpaths) == 0 {
		toolpaths = st.warn(toolpaths)
	}
	fmt.Fprintf(w, "%s %d shapes, %s, %.1f mm cut path, %d lines, est. %s (%s)\n",
		st.good("✓"), res.Shapes, toolpaths, res.Length, sum.Lines,
		sum.Duration.Round(time.Second), res.JobID.String()[:8])
}
