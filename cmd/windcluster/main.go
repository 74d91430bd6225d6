// Command windcluster trains wind-profile cluster models from CSV wind data,
// stores them in SQLite, and assigns new data to a stored model.
//
//	windcluster -mode train -input wind.csv -config run.json -db models.db
//	windcluster -mode predict -input new.csv -db models.db [-run <id>]
//	windcluster -mode list -db models.db
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/banshee-data/windprofile/internal/config"
	"github.com/banshee-data/windprofile/internal/monitoring"
	"github.com/banshee-data/windprofile/internal/pipeline"
	"github.com/banshee-data/windprofile/internal/preprocess"
	"github.com/banshee-data/windprofile/internal/reconstruct"
	"github.com/banshee-data/windprofile/internal/store"
	"github.com/banshee-data/windprofile/internal/version"
	"github.com/banshee-data/windprofile/internal/windio"
)

var (
	mode        = flag.String("mode", "train", "Mode: 'train', 'predict' or 'list'")
	inputPath   = flag.String("input", "", "Wind CSV with columns sample,altitude,u,v")
	configPath  = flag.String("config", "", "Clustering config JSON (defaults apply to omitted fields)")
	dbPath      = flag.String("db", "", "SQLite model store (required for predict and list; optional for train)")
	runID       = flag.String("run", "", "Run ID to predict with (defaults to the latest run)")
	quiet       = flag.Bool("quiet", false, "Mute diagnostic logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch *mode {
	case "train":
		err = runTrain(ctx, os.Stdout, *inputPath, *configPath, *dbPath)
	case "predict":
		err = runPredict(ctx, os.Stdout, *inputPath, *dbPath, *runID)
	case "list":
		err = runList(ctx, os.Stdout, *dbPath)
	default:
		log.Fatalf("Invalid mode: %s (must be train, predict or list)", *mode)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", *mode, err)
	}
}

func loadConfig(path string) (*config.ClusteringConfig, error) {
	if path == "" {
		return config.EmptyClusteringConfig(), nil
	}
	return config.LoadClusteringConfig(path)
}

func runTrain(ctx context.Context, out io.Writer, input, cfgPath, db string) error {
	if input == "" {
		return fmt.Errorf("-input is required")
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if timeout := cfg.GetTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	samples, err := windio.ReadFile(input)
	if err != nil {
		return err
	}
	norm, err := pipeline.Normalize(samples, cfg)
	if err != nil {
		return err
	}
	res, err := pipeline.Train(ctx, norm.Profiles, cfg)
	if err != nil {
		return err
	}

	if db != "" {
		params, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		s, err := store.Open(db)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.SaveRun(ctx, &store.Run{
			RunID:       res.RunID,
			Source:      input,
			NumSamples:  len(norm.Profiles),
			NumSkipped:  len(norm.Skipped),
			Altitudes:   res.Altitudes,
			ParamsJSON:  params,
			Reducer:     res.Reducer,
			Clusters:    res.Clusters,
			Counts:      res.Counts,
			Frequencies: res.Frequencies,
		}); err != nil {
			return err
		}
	}

	printTraining(out, res, norm)
	return nil
}

func runPredict(ctx context.Context, out io.Writer, input, db, id string) error {
	if input == "" || db == "" {
		return fmt.Errorf("-input and -db are required")
	}
	s, err := store.Open(db)
	if err != nil {
		return err
	}
	defer s.Close()

	var run *store.Run
	if id == "" {
		run, err = s.LatestRun(ctx)
	} else {
		run, err = s.LoadRun(ctx, id)
	}
	if err != nil {
		return err
	}

	// Normalise exactly as the training run did.
	cfg := config.EmptyClusteringConfig()
	if len(run.ParamsJSON) > 0 {
		if err := json.Unmarshal(run.ParamsJSON, cfg); err != nil {
			return fmt.Errorf("decode run %s config: %w", run.RunID, err)
		}
	}

	samples, err := windio.ReadFile(input)
	if err != nil {
		return err
	}
	norm, err := pipeline.Normalize(samples, cfg)
	if err != nil {
		return err
	}
	if len(norm.Profiles) > 0 && !slices.Equal(norm.Profiles[0].Altitudes, run.Altitudes) {
		return fmt.Errorf("input altitude grid %v differs from run %s grid %v",
			norm.Profiles[0].Altitudes, run.RunID, run.Altitudes)
	}

	pred, err := pipeline.Predict(ctx, norm.Profiles, run.Reducer, run.Clusters)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s: %d samples assigned, %d skipped\n", run.RunID, len(pred.Labels), len(norm.Skipped))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "cluster\tcount\tfrequency\ttraining frequency")
	for k := range pred.Counts {
		fmt.Fprintf(w, "%d\t%d\t%.3f\t%.3f\n", k+1, pred.Counts[k], pred.Frequencies[k], run.Frequencies[k])
	}
	w.Flush()
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "sample\tcluster")
	for i, l := range pred.Labels {
		fmt.Fprintf(w, "%s\t%d\n", norm.IDs[i], l+1)
	}
	return w.Flush()
}

func runList(ctx context.Context, out io.Writer, db string) error {
	if db == "" {
		return fmt.Errorf("-db is required")
	}
	s, err := store.Open(db)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "run\tcreated\tsource\tsamples\tcomponents\tvariance\tclusters\tdispersion")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%d\t%.4g\n",
			r.RunID, r.CreatedAt.UTC().Format("2006-01-02 15:04:05"), r.Source,
			r.NumSamples, r.NumComponents, 100*r.CumulativeVariance, r.NumClusters, r.Dispersion)
	}
	return w.Flush()
}

func printTraining(out io.Writer, res *pipeline.Result, norm *preprocess.Result) {
	cum := res.Reducer.CumulativeVarianceRatio()
	fmt.Fprintf(out, "run %s: %d samples (%d skipped), %d components retain %.1f%% of the variance\n",
		res.RunID, len(res.Labels), len(norm.Skipped), len(cum), 100*cum[len(cum)-1])

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "cluster\tcount\tfrequency")
	for k := range res.Counts {
		fmt.Fprintf(w, "%d\t%d\t%.3f\n", k+1, res.Counts[k], res.Frequencies[k])
	}
	w.Flush()

	fmt.Fprintln(out)
	printProfiles(out, res.Altitudes, res.Profiles)
}

// printProfiles writes one row per altitude with the normalised magnitude of
// every cluster profile.
func printProfiles(out io.Writer, altitudes []float64, profiles []reconstruct.Profile) {
	mags := make([][]float64, len(profiles))
	for k, p := range profiles {
		mags[k] = p.Magnitude()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(w, "altitude\t")
	for k := range profiles {
		fmt.Fprintf(w, "c%d\t", k+1)
	}
	fmt.Fprintln(w)
	for i, h := range altitudes {
		fmt.Fprintf(w, "%.0f\t", h)
		for k := range profiles {
			fmt.Fprintf(w, "%.3f\t", mags[k][i])
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}
