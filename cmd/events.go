package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the access log",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List access events, newest first",
	Args:  cobra.NoArgs,
	RunE:  runEventsList,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)

	eventsListCmd.Flags().Int("limit", constants.DefaultEventLimit, "Maximum number of events")
	eventsListCmd.Flags().String("kind", "", "Only resident or visitor events")
	eventsListCmd.Flags().String("label", "", "Only events for this label")
	eventsListCmd.Flags().Duration("since", 0, "Only events newer than this (e.g. 24h)")
	eventsListCmd.Flags().Bool("json", false, "Output as JSON")
}

// eventFilter builds a listing filter from the command flags.
func eventFilter(limit int, kind, label string, since time.Duration, now time.Time) (database.EventFilter, error) {
	filter := database.EventFilter{Limit: limit, Label: label}
	switch database.SubjectKind(kind) {
	case "":
	case database.SubjectResident, database.SubjectVisitor:
		filter.SubjectKind = database.SubjectKind(kind)
	default:
		return filter, fmt.Errorf("invalid --kind %q: use resident or visitor", kind)
	}
	if since > 0 {
		filter.Since = now.Add(-since)
	}
	return filter, nil
}

func runEventsList(cmd *cobra.Command, args []string) error {
	filter, err := eventFilter(
		mustGetInt(cmd, "limit"),
		mustGetString(cmd, "kind"),
		mustGetString(cmd, "label"),
		mustGetDuration(cmd, "since"),
		time.Now(),
	)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	events, err := a.store.ListEvents(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}
	if events == nil {
		events = []database.AccessEvent{}
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLABEL\tSUBJECT\tEVENT\tIMAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Label, e.SubjectKind, e.EventKind, e.ImageRef)
	}
	w.Flush()
	return nil
}
