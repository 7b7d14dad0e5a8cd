package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/promptfile"
)

// NewPromptCmd создаёт группу команд для управления шаблонами промптов.
func NewPromptCmd(clientFn func() *Client, outputFn func() *Output, promptsDirFn func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Manage prompt templates",
	}

	cmd.AddCommand(
		newPromptListCmd(clientFn, outputFn),
		newPromptShowCmd(clientFn, outputFn),
		newPromptImportCmd(clientFn, outputFn),
		newPromptExportCmd(clientFn, outputFn),
		newPromptDeleteCmd(clientFn, outputFn),
		newPromptFoldersCmd(clientFn, outputFn),
		newPromptWatchCmd(clientFn, outputFn, promptsDirFn),
	)

	return cmd
}

func newPromptListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List prompt templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			prompts, err := client.ListPrompts()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "FOLDER", "CATEGORY", "OUTPUT"}
			rows := make([][]string, len(prompts))
			for i, p := range prompts {
				rows[i] = []string{p.ID, p.Name, p.Folder, p.Category, string(p.OutputExtraction.Mode)}
			}

			out.Print(headers, rows, prompts)
			return nil
		},
	}
}

func newPromptShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a prompt template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.GetPrompt(args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(p)
				return nil
			}
			out.Table(
				[]string{"ID", "NAME", "FOLDER", "TAGS"},
				[][]string{{p.ID, p.Name, p.Folder, strings.Join(p.Tags, ",")}},
			)
			out.Text("\n" + p.Template)
			return nil
		},
	}
}

func newPromptImportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import markdown prompt files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer := &PromptSyncer{Client: clientFn(), Out: outputFn(), Folder: folder}

			var errs []error
			for _, path := range args {
				if _, err := syncer.Sync(path); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Target folder")

	return cmd
}

func newPromptExportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var dir string
	var all bool

	cmd := &cobra.Command{
		Use:   "export [ID]",
		Short: "Export prompt templates as markdown",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if all {
				if dir == "" {
					return errors.New("--dir is required with --all")
				}
				prompts, err := client.ListPrompts()
				if err != nil {
					return err
				}
				for i := range prompts {
					if _, err := promptfile.WriteFile(folderDir(dir, prompts[i].Folder), &prompts[i]); err != nil {
						return err
					}
				}
				out.Success(fmt.Sprintf("%d prompt(s) exported to %s", len(prompts), dir))
				return nil
			}

			if len(args) == 0 {
				return errors.New("prompt ID or --all is required")
			}

			if dir == "" {
				content, err := client.ExportPrompt(args[0])
				if err != nil {
					return err
				}
				out.Text(string(content))
				return nil
			}

			p, err := client.GetPrompt(args[0])
			if err != nil {
				return err
			}
			path, err := promptfile.WriteFile(dir, p)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Prompt exported: %s", path))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Write files into a directory")
	cmd.Flags().BoolVar(&all, "all", false, "Export every prompt, folders become subdirectories")

	return cmd
}

func newPromptDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a prompt template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeletePrompt(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Prompt deleted: %s", args[0]))
			return nil
		},
	}
}

func newPromptFoldersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List prompt folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			folders, err := client.ListPromptFolders()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "PARENT", "PROMPTS"}
			rows := make([][]string, len(folders))
			for i, f := range folders {
				rows[i] = []string{f.Name, f.Parent, fmt.Sprint(f.PromptCount)}
			}

			out.Print(headers, rows, folders)
			return nil
		},
	}
}

func newPromptWatchCmd(clientFn func() *Client, outputFn func() *Output, promptsDirFn func() string) *cobra.Command {
	var folder string
	var initial bool

	cmd := &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Import prompt files whenever they change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := promptsDirFn()
			if len(args) == 1 {
				dir = args[0]
			}

			syncer := &PromptSyncer{Client: clientFn(), Out: outputFn(), Folder: folder}
			if initial {
				if err := syncer.SyncDir(dir); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			syncer.Out.Success(fmt.Sprintf("Watching %s (Ctrl+C to stop)", dir))
			return syncer.Watch(ctx, dir)
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Target folder for imported prompts")
	cmd.Flags().BoolVar(&initial, "initial", false, "Import every file before watching")

	return cmd
}

// PromptSyncer загружает .md файлы шаблонов на сервер.
type PromptSyncer struct {
	Client *Client
	Out    *Output

	// Folder: папка на сервере для всех файлов.
	Folder string
}

// Sync разбирает файл и сохраняет шаблон. ID по умолчанию берётся из имени файла.
func (s *PromptSyncer) Sync(path string) (*domain.PromptTemplate, error) {
	p, err := promptfile.ReadFile(path)
	if err != nil {
		s.Out.Error(err.Error())
		return nil, err
	}

	content, err := promptfile.Format(p)
	if err != nil {
		return nil, err
	}

	saved, err := s.Client.ImportPrompt(content, s.Folder, p.SourceFilename)
	if err != nil {
		s.Out.Error(fmt.Sprintf("%s: %v", filepath.Base(path), err))
		return nil, err
	}

	s.Out.Success(fmt.Sprintf("Prompt synced: %s (%s)", saved.ID, filepath.Base(path)))
	return saved, nil
}

// SyncDir загружает все .md файлы каталога (без вложенных).
func (s *PromptSyncer) SyncDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read prompts dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !promptfile.IsPromptFile(e.Name()) {
			continue
		}
		if _, err := s.Sync(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch следит за каталогом до отмены ctx.
// Ошибка синхронизации одного файла не останавливает наблюдение.
func (s *PromptSyncer) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !promptfile.IsPromptFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				_, _ = s.Sync(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.Out.Error(fmt.Sprintf("watch: %v", err))
		}
	}
}

// folderDir: каталог для папки шаблонов ("" означает корень).
func folderDir(root, folder string) string {
	if folder == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(folder))
}
