package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

var residentsCmd = &cobra.Command{
	Use:   "residents",
	Short: "Manage enrolled residents",
}

var residentsEnrollCmd = &cobra.Command{
	Use:   "enroll NAME",
	Short: "Enroll a resident from an embedding file",
	Long: `Enroll a resident. The embedding file holds either a JSON array of floats
or an object {"name", "embedding", "image_path"}. A previously removed
resident with the same name is reactivated.`,
	Args: cobra.ExactArgs(1),
	RunE: runResidentsEnroll,
}

var residentsImportCmd = &cobra.Command{
	Use:   "import DIR",
	Short: "Enroll every *.json embedding file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runResidentsImport,
}

var residentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active residents",
	Args:  cobra.NoArgs,
	RunE:  runResidentsList,
}

var residentsRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a resident (logical delete)",
	Args:  cobra.ExactArgs(1),
	RunE:  runResidentsRemove,
}

var residentsIdentifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Find the closest residents to an embedding",
	Long: `Rank the active residents by distance to an embedding. On PostgreSQL the
ranking runs in the database through pgvector.`,
	Args:  cobra.NoArgs,
	RunE:  runResidentsIdentify,
}

func init() {
	rootCmd.AddCommand(residentsCmd)
	residentsCmd.AddCommand(residentsEnrollCmd, residentsImportCmd, residentsListCmd, residentsRemoveCmd, residentsIdentifyCmd)

	residentsEnrollCmd.Flags().String("embedding", "", "Embedding file (JSON)")
	residentsEnrollCmd.Flags().String("image", "", "Reference image path stored with the resident")
	_ = residentsEnrollCmd.MarkFlagRequired("embedding")

	residentsImportCmd.Flags().Bool("skip-existing", true, "Skip residents that are already enrolled instead of failing")

	residentsListCmd.Flags().Bool("json", false, "Output as JSON")

	residentsIdentifyCmd.Flags().String("embedding", "", "Embedding file (JSON)")
	residentsIdentifyCmd.Flags().Float64("tolerance", 0, "Maximum distance for a match (defaults to the configured resident tolerance)")
	residentsIdentifyCmd.Flags().Int("top", 1, "Number of nearest residents to list")
	residentsIdentifyCmd.Flags().Bool("json", false, "Output as JSON")
	_ = residentsIdentifyCmd.MarkFlagRequired("embedding")
}

func runResidentsEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ef, err := readEmbedding(mustGetString(cmd, "embedding"), a.cfg.Gate.EmbeddingDim)
	if err != nil {
		return err
	}
	image := mustGetString(cmd, "image")
	if image == "" {
		image = ef.ImagePath
	}

	id, err := a.store.EnrollResident(ctx, args[0], image, ef.Embedding)
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", args[0], err)
	}
	a.logger.Info("resident enrolled", zap.String("name", args[0]), zap.Int64("id", id))
	fmt.Printf("Enrolled %s (id %d)\n", args[0], id)
	return nil
}

func runResidentsImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	skipExisting := mustGetBool(cmd, "skip-existing")

	files, err := filepath.Glob(filepath.Join(args[0], "*.json"))
	if err != nil {
		return fmt.Errorf("listing %s: %w", args[0], err)
	}
	if len(files) == 0 {
		fmt.Printf("No embedding files found in %s\n", args[0])
		return nil
	}
	sort.Strings(files)

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Enrolling residents"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("residents"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var enrolled, skipped int
	var failed []string
	for _, path := range files {
		bar.Add(1)

		ef, err := readEmbedding(path, a.cfg.Gate.EmbeddingDim)
		if err != nil {
			a.logger.Warn("skipping embedding file", zap.String("path", path), zap.Error(err))
			failed = append(failed, filepath.Base(path))
			continue
		}
		if _, err := a.store.EnrollResident(ctx, ef.Name, ef.ImagePath, ef.Embedding); err != nil {
			if skipExisting && errors.Is(err, database.ErrResidentExists) {
				skipped++
				continue
			}
			a.logger.Warn("enroll failed", zap.String("name", ef.Name), zap.Error(err))
			failed = append(failed, filepath.Base(path))
			continue
		}
		enrolled++
	}
	fmt.Println()

	fmt.Printf("Enrolled: %d, skipped: %d, failed: %d\n", enrolled, skipped, len(failed))
	for _, f := range failed {
		fmt.Printf("  failed: %s\n", f)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d embedding files could not be imported", len(failed))
	}
	return nil
}

// residentOutput is the listing form of a resident; the embedding is omitted.
type residentOutput struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ImagePath string `json:"image_path,omitempty"`
	Dim       int    `json:"dim"`
	CreatedAt string `json:"created_at"`
}

func runResidentsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	residents, err := a.store.ListActiveResidents(ctx)
	if err != nil {
		return fmt.Errorf("listing residents: %w", err)
	}

	out := make([]residentOutput, 0, len(residents))
	for _, r := range residents {
		out = append(out, residentOutput{
			ID:        r.ID,
			Name:      r.Name,
			ImagePath: r.ImagePath,
			Dim:       len(r.Embedding),
			CreatedAt: r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("No residents enrolled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDIM\tENROLLED\tIMAGE")
	for _, r := range out {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", r.ID, r.Name, r.Dim, r.CreatedAt, r.ImagePath)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d residents\n", len(out))
	return nil
}

func runResidentsRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.DeactivateResident(ctx, args[0]); err != nil {
		return fmt.Errorf("removing %s: %w", args[0], err)
	}
	a.logger.Info("resident removed", zap.String("name", args[0]))
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

// candidateOutput is one ranked resident.
type candidateOutput struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// identifyOutput is the result of matching one embedding against the residents.
type identifyOutput struct {
	Match      bool              `json:"match"`
	Name       string            `json:"name,omitempty"`
	Distance   float64           `json:"distance"`
	Tolerance  float64           `json:"tolerance"`
	Candidates []candidateOutput `json:"candidates"`
}

func runResidentsIdentify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ef, err := readEmbedding(mustGetString(cmd, "embedding"), a.cfg.Gate.EmbeddingDim)
	if err != nil {
		return err
	}
	tolerance := mustGetFloat64(cmd, "tolerance")
	if tolerance <= 0 {
		tolerance = a.cfg.Gate.ResidentTolerance
	}

	out, err := identify(ctx, a.store, ef.Embedding, tolerance, mustGetInt(cmd, "top"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}
	if out.Match {
		fmt.Printf("%s (distance %.4f, tolerance %.2f)\n", out.Name, out.Distance, out.Tolerance)
	} else {
		fmt.Printf("No resident within tolerance %.2f\n", out.Tolerance)
	}
	if len(out.Candidates) > 1 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nRANK\tNAME\tDISTANCE")
		for i, c := range out.Candidates {
			fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, c.Name, c.Distance)
		}
		w.Flush()
	}
	return nil
}

// identify ranks the residents nearest to q and applies the tolerance to the
// closest one.
func identify(ctx context.Context, residents database.ResidentReader, q []float32, tolerance float64, top int) (identifyOutput, error) {
	out := identifyOutput{Tolerance: tolerance, Candidates: []candidateOutput{}}
	if top < 1 {
		top = 1
	}
	ranked, dists, err := residents.FindNearestResidents(ctx, q, top)
	if err != nil {
		return out, fmt.Errorf("ranking residents: %w", err)
	}
	for i, r := range ranked {
		out.Candidates = append(out.Candidates, candidateOutput{Name: r.Name, Distance: dists[i]})
	}
	if len(ranked) == 0 {
		return out, nil
	}
	out.Distance = dists[0]
	if dists[0] <= tolerance {
		out.Match = true
		out.Name = ranked[0].Name
	}
	return out, nil
}
