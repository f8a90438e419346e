package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTicketCmd создаёт группу команд для работы с билетами.
func NewTicketCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Reserve and inspect tickets",
	}

	cmd.AddCommand(
		newTicketReserveCmd(clientFn, outputFn),
		newTicketStatusCmd(clientFn, outputFn),
		newTicketCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newTicketReserveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var userID string
	var email string
	var wait bool

	cmd := &cobra.Command{
		Use:   "reserve SHOWTIME_ID",
		Short: "Reserve a ticket for a showtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateReservationRequest{
				ShowtimeID: args[0],
				UserID:     userID,
				UserEmail:  email,
			}

			if wait {
				res, err := client.CreateReservationWait(req)
				if err != nil {
					return err
				}
				out.Print(
					[]string{"ID", "SHOWTIME_ID", "STATUS", "TRANSACTION_ID", "PRICE"},
					[][]string{{res.ID, res.ShowtimeID, res.Status, res.TransactionID, FormatPrice(res.PriceCents)}},
					res,
				)
				return nil
			}

			accepted, err := client.CreateReservation(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Reservation accepted: %s", accepted.ID))
			out.Print(
				[]string{"OPERATION", "ID", "STATUS"},
				[][]string{{accepted.Operation, accepted.ID, accepted.Status}},
				accepted,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "User UUID (required)")
	cmd.Flags().StringVar(&email, "email", "", "User email for notifications (required)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the worker reply")
	cmd.MarkFlagRequired("user-id")
	cmd.MarkFlagRequired("email")

	return cmd
}

func newTicketStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show reservation status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.GetReservation(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "SHOWTIME_ID", "USER_ID", "STATUS", "TRANSACTION_ID", "UPDATED"},
				[][]string{{res.ID, res.ShowtimeID, res.UserID, res.Status, res.TransactionID, res.UpdatedAt}},
				res,
			)
			return nil
		},
	}
}

func newTicketCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var userIDs []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "cancel SHOWTIME_ID",
		Short: "Cancel tickets of specific users for a showtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			echo, err := client.CancelTickets(CancelTicketsRequest{
				ShowtimeID: args[0],
				UserIDs:    userIDs,
			}, wait)
			if err != nil {
				return err
			}

			if wait {
				out.Success("Tickets cancelled")
			} else {
				out.Success("Cancellation accepted")
			}
			out.JSON(echo)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&userIDs, "user", nil, "User UUID to cancel (repeatable, required)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the worker reply")
	cmd.MarkFlagRequired("user")

	return cmd
}
