// flowboard: инструмент командной строки для workflows, шаблонов промптов
// и failure tracker.
//
// Использование:
//
//	flowboard [--api-url URL] [--json] [--config FILE] <command> <subcommand> [flags]
//
// Команды:
//
//	flow      Управление workflows на сервере
//	edit      Редактирование локального файла workflow
//	prompt    Управление шаблонами промптов
//	failure   Failure tracker
//	autosave  Локальное автосохранение
//	events    События RabbitMQ
//	preview   Подстановка шаблона
//	vars      Переменные шаблона
//	extract   Правила извлечения выходов
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/cli"
	"github.com/shaiso/flowboard/internal/config"
	"github.com/shaiso/flowboard/internal/localstore"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL, configPath string
	var jsonOutput bool
	cfg := config.Defaults()

	rootCmd := &cobra.Command{
		Use:           "flowboard",
		Short:         "flowboard CLI: workflow graphs, prompt templates and failure tracking",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			if !cmd.Flags().Changed("api-url") {
				apiURL = cfg.APIURL
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", cfg.APIURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (overrides FLOWBOARD_CONFIG)")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	autosaveFn := func() (*localstore.Store, error) { return localstore.Open(cfg.AutosavePath) }
	promptsDirFn := func() string { return cfg.PromptsDir }
	amqpURLFn := func() string { return cfg.AMQPURL }

	rootCmd.AddCommand(
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewEditCmd(autosaveFn, outputFn),
		cli.NewPromptCmd(clientFn, outputFn, promptsDirFn),
		cli.NewFailureCmd(clientFn, outputFn),
		cli.NewAutosaveCmd(autosaveFn, clientFn, outputFn),
		cli.NewEventsCmd(amqpURLFn, outputFn),
		cli.NewPreviewCmd(clientFn, outputFn),
		cli.NewVarsCmd(outputFn),
		cli.NewExtractCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
