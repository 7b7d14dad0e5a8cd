package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/localstore"
)

// NewAutosaveCmd создаёт группу команд локального автосохранения.
func NewAutosaveCmd(autosaveFn AutosaveFn, clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autosave",
		Short: "Inspect and restore the local autosave snapshot",
	}

	cmd.AddCommand(
		newAutosaveShowCmd(autosaveFn, outputFn),
		newAutosaveSaveCmd(autosaveFn, outputFn),
		newAutosaveRestoreCmd(autosaveFn, outputFn),
		newAutosaveClearCmd(autosaveFn, outputFn),
		newAutosaveDiffCmd(autosaveFn, clientFn, outputFn),
	)

	return cmd
}

func newAutosaveShowCmd(autosaveFn AutosaveFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the autosaved workflow summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			store, err := autosaveFn()
			if err != nil {
				return err
			}
			defer store.Close()

			wf, savedAt, err := store.Load(cmd.Context())
			if errors.Is(err, localstore.ErrNoAutosave) {
				out.Success("No autosave")
				return nil
			}
			if err != nil {
				return err
			}

			out.Print(
				[]string{"NAME", "NODES", "EDGES", "SAVED"},
				[][]string{{wf.Name, strconv.Itoa(len(wf.Nodes)), strconv.Itoa(len(wf.Edges)), formatTime(savedAt)}},
				map[string]any{"workflow": wf, "saved_at": savedAt},
			)
			return nil
		},
	}
}

func newAutosaveSaveCmd(autosaveFn AutosaveFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "save FILE",
		Short: "Store a workflow file as the autosave snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			wf, err := readWorkflowFile(args[0])
			if err != nil {
				return err
			}

			store, err := autosaveFn()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Save(cmd.Context(), wf); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Autosave updated: %s", store.Path()))
			return nil
		},
	}
}

func newAutosaveRestoreCmd(autosaveFn AutosaveFn, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Write the autosaved workflow to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			store, err := autosaveFn()
			if err != nil {
				return err
			}
			defer store.Close()

			wf, _, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}

			if file == "" {
				out.JSON(wf)
				return nil
			}
			if err := writeWorkflowFile(file, wf); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Autosave restored to %s", file))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

func newAutosaveClearCmd(autosaveFn AutosaveFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the autosave snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			store, err := autosaveFn()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}

			out.Success("Autosave cleared")
			return nil
		},
	}
}

func newAutosaveDiffCmd(autosaveFn AutosaveFn, clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "diff [NAME]",
		Short: "Compare the autosave with a saved workflow",
		Long:  "Compare the autosave with a workflow saved on the server (by NAME, defaults to the autosave name) or with a local file (--file).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			store, err := autosaveFn()
			if err != nil {
				return err
			}
			defer store.Close()

			draft, _, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}

			var saved *domain.Workflow
			if file != "" {
				saved, err = readWorkflowFile(file)
			} else {
				name := draft.Name
				if len(args) == 1 {
					name = args[0]
				}
				saved, err = clientFn().GetFlow(name)
			}
			if err != nil {
				return err
			}

			changed, err := DiffWorkflows(out.w, saved, draft)
			if err != nil {
				return err
			}
			if !changed {
				out.Success("No changes")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Compare with a local workflow file")

	return cmd
}

// DiffWorkflows печатает построчный diff JSON представлений: "-" строки
// из old, "+" строки из next. Возвращает false, если изменений нет.
func DiffWorkflows(w io.Writer, old, next *domain.Workflow) (bool, error) {
	a, err := canonicalJSON(old)
	if err != nil {
		return false, err
	}
	b, err := canonicalJSON(next)
	if err != nil {
		return false, err
	}
	if a == b {
		return false, nil
	}

	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			fmt.Fprint(w, prefix+line)
		}
	}
	return true, nil
}

// canonicalJSON: JSON без ID и времени изменения, чтобы diff показывал только граф.
func canonicalJSON(wf *domain.Workflow) (string, error) {
	c := *wf
	c.ID = uuid.Nil
	c.CreatedAt = time.Time{}
	c.UpdatedAt = time.Time{}
	data, err := json.MarshalIndent(&c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow: %w", err)
	}
	return string(data) + "\n", nil
}
