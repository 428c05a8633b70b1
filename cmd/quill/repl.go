package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurodesk/quill/pkg/runtime"
	"github.com/neurodesk/quill/pkg/starlark"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const historyFile = ".quill_history"

var replFlags renderOptions

var replCmd = cobra.Command{
	Use:   "repl",
	Short: "Render templates interactively, one line at a time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := loadData(replFlags.dataFile)
		if err != nil {
			return err
		}
		return runRepl(cmd.OutOrStdout(), &replSession{opts: &replFlags, data: data})
	},
}

// replSession holds the state that survives between prompts.
type replSession struct {
	opts *renderOptions
	data any
}

// eval handles one input line and returns what to print. Lines starting
// with ':' are commands; anything else is rendered as a template.
func (s *replSession) eval(line string) (out string, quit bool, err error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, ":") {
		cmd, arg, _ := strings.Cut(trimmed[1:], " ")
		switch cmd {
		case "quit", "q":
			return "", true, nil
		case "data":
			data, err := loadData(strings.TrimSpace(arg))
			if err != nil {
				return "", false, err
			}
			s.data = data
			return "data loaded", false, nil
		case "set":
			data, err := decodeData([]byte(arg))
			if err != nil {
				return "", false, err
			}
			s.data = data
			return "data set", false, nil
		case "eval":
			v, err := s.evalStarlark(arg)
			if err != nil {
				return "", false, err
			}
			return runtime.ToString(v), false, nil
		case "plan":
			tmpl, err := s.opts.compile(arg)
			if err != nil {
				return "", false, err
			}
			return strings.TrimSuffix(tmpl.Plan(), "\n"), false, nil
		default:
			return "", false, fmt.Errorf("unknown command %q; try :data FILE, :set YAML, :eval EXPR, :plan TEMPLATE or :quit", cmd)
		}
	}
	if trimmed == "" {
		return "", false, nil
	}
	tmpl, err := s.opts.compile(line)
	if err != nil {
		return "", false, err
	}
	out, err = tmpl.Render(s.data)
	return out, false, err
}

// evalStarlark evaluates a Starlark expression with the top-level keys of
// the session data as globals.
func (s *replSession) evalStarlark(expr string) (any, error) {
	e := starlark.NewEvaluator()
	if m, ok := s.data.(map[string]any); ok {
		if err := e.LoadData(m); err != nil {
			return nil, err
		}
	}
	return e.Eval(expr)
}

func runRepl(w io.Writer, s *replSession) error {
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		line, err := ln.Prompt("quill> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(w)
			return nil
		}
		if err != nil {
			return err
		}
		out, quit, err := s.eval(line)
		if quit {
			return nil
		}
		if strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(w, out)
		}
	}
}
