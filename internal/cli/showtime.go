package cli

import (
	"github.com/spf13/cobra"
)

// NewShowtimeCmd создаёт группу команд для работы с сеансами.
func NewShowtimeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "showtime",
		Short: "Inspect and cancel showtimes",
	}

	cmd.AddCommand(
		newShowtimeShowCmd(clientFn, outputFn),
		newShowtimeCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newShowtimeShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show showtime details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.GetShowtime(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "MOVIE", "HALL", "PRICE", "STARTS_AT", "STATUS"},
				[][]string{{s.ID, s.MovieTitle, s.HallName, FormatPrice(s.PriceCents), s.StartsAt, s.Status}},
				s,
			)
			return nil
		},
	}
}

func newShowtimeCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a showtime and all its reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			echo, err := client.CancelShowtime(args[0], wait)
			if err != nil {
				return err
			}

			if wait {
				out.Success("Showtime cancelled")
			} else {
				out.Success("Cancellation accepted")
			}
			out.JSON(echo)
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the worker reply")

	return cmd
}
