// Kinobilet CLI — инструмент командной строки для тикетных операций
// и управления топологией брокера.
//
// Использование:
//
//	kinobilet [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	ticket    Бронирование и отмена билетов
//	showtime  Просмотр и отмена сеансов
//	topology  Создание и проверка топологии RabbitMQ
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kinobilet/kinobilet/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "kinobilet",
		Short:         "Kinobilet CLI — movie ticket operations tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTicketCmd(clientFn, outputFn),
		cli.NewShowtimeCmd(clientFn, outputFn),
		cli.NewTopologyCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
