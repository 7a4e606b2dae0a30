package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"cnc-cam-core/pkg/cam"
	"cnc-cam-core/pkg/config"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/metrics"
)

func newWatchCmd(o *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "watch DESIGN",
		Short: "Regenerate the program whenever the design or configuration changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New(errors.ErrConfiguration, "watch needs --output")
			}
			return runWatch(cmd.Context(), cmd.ErrOrStderr(), o, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "program `file` to keep up to date")
	return cmd
}

// watcher regenerates output from a design. A failed reload keeps the
// previous machine configuration.
type watcher struct {
	opts       *options
	designPath string
	output     string
	w          io.Writer
	worker     *cam.Worker
	log        *log.Logger

	mu      sync.Mutex
	machine *config.MachineConfig
}

func runWatch(ctx context.Context, w io.Writer, o *options, designPath, output string) error {
	m, err := o.machine()
	if err != nil {
		return err
	}
	paths := []string{designPath}
	if o.configPath != "" {
		paths = append(paths, o.configPath)
	}
	fw, err := config.NewWatcher(0, paths...)
	if err != nil {
		return err
	}

	wt := &watcher{
		opts:       o,
		designPath: designPath,
		output:     output,
		w:          w,
		worker:     cam.NewWorker(metrics.GlobalMetrics()),
		log:        log.GetLogger("cam"),
		machine:    m,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		wt.worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		wt.deliver()
	}()

	wt.submit(false)
	err = fw.Run(ctx, func(changed []string) {
		wt.submit(containsPath(changed, o.configPath))
	})
	cancel()
	wg.Wait()
	return err
}

func (wt *watcher) submit(reloadConfig bool) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if reloadConfig {
		m, err := wt.opts.machine()
		if err != nil {
			wt.log.WithError(err).Error("configuration reload failed, keeping previous")
		} else {
			wt.machine = m
		}
	}
	doc, err := loadDesign(wt.designPath, wt.machine)
	if err != nil {
		wt.log.WithError(err).Error("design load failed")
		return
	}
	if wt.worker.Submit(cam.NewJob(doc, outputOptions(doc, wt.machine))) {
		wt.log.Debug("superseded queued generation")
	}
}

func (wt *watcher) deliver() {
	st := newStyle(wt.w)
	for out := range wt.worker.Outcomes() {
		switch {
		case errors.Is(out.Err, errors.ErrCancelled):
			continue
		case out.Err != nil:
			fmt.Fprintf(wt.w, "%s generation failed: %v\n", st.bad("✗"), out.Err)
			continue
		}
		if err := writeOutput(wt.output, wt.w, out.Result.Program); err != nil {
			fmt.Fprintf(wt.w, "%s %v\n", st.bad("✗"), err)
			continue
		}
		fmt.Fprintf(wt.w, "%s wrote %s: %d shapes, %d toolpaths in %s\n",
			st.good("✓"), wt.output, out.Result.Shapes, len(out.Result.Toolpaths), out.Result.Duration)
	}
}

func containsPath(paths []string, target string) bool {
	if target == "" {
		return false
	}
	abs, err := absPath(target)
	if err != nil {
		return false
	}
	for _, p := range paths {
		if p == abs {
			return true
		}
	}
	return false
}
