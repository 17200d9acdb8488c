// Command hsuanwu trains an IMPALA agent on CartPole.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"

	"github.com/Bellman-Project/Hsuanwu"
	"github.com/Bellman-Project/Hsuanwu/impala"
	"github.com/Bellman-Project/Hsuanwu/intrinsic"
	"github.com/Bellman-Project/Hsuanwu/parquetlog"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
)

type trainFlags struct {
	Workers       int
	SegmentLength int
	BatchSize     int
	QueueCapacity int
	Updates       int64
	Drain         bool

	StepSize    float64
	AnnealSteps int64
	Discount    float64
	Correction  string
	EntropyCost float64
	Hidden      int

	Intrinsic string
	Beta      float64
	Kappa     float64

	CheckpointDir   string
	CheckpointEvery int64
	Resume          string

	MetricsPath string
	LogEpisodes bool

	Seed            int64
	MaxEpisodeSteps int
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hsuanwu",
		Short: "Hsuanwu trains recurrent agents with an asynchronous actor/learner loop.",
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	flags := &trainFlags{}
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent on CartPole until Ctrl+C or the update limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(flags)
		},
	}
	flags.register(trainCmd)

	rootCmd.AddCommand(trainCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// register adds the flags to cmd.
// Defaults come from HSUANWU_* environment variables when
// they are set.
func (t *trainFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&t.Workers, "workers", envInt("HSUANWU_WORKERS", 4), "number of actor workers")
	f.IntVar(&t.SegmentLength, "segment", envInt("HSUANWU_SEGMENT", 20),
		"transitions per trajectory")
	f.IntVar(&t.BatchSize, "batch", envInt("HSUANWU_BATCH", 4), "trajectories per update")
	f.IntVar(&t.QueueCapacity, "queue", envInt("HSUANWU_QUEUE", 0),
		"queue capacity (0 means twice the batch size)")
	f.Int64Var(&t.Updates, "updates", int64(envInt("HSUANWU_UPDATES", 0)),
		"stop after this many updates (0 means no limit)")
	f.BoolVar(&t.Drain, "drain", envBool("HSUANWU_DRAIN", false),
		"let workers finish their segments on shutdown")

	f.Float64Var(&t.StepSize, "step", envFloat("HSUANWU_STEP", 4e-4), "learning rate")
	f.Int64Var(&t.AnnealSteps, "anneal", int64(envInt("HSUANWU_ANNEAL", 0)),
		"updates over which the learning rate decays to 0")
	f.Float64Var(&t.Discount, "discount", envFloat("HSUANWU_DISCOUNT", 0.99), "reward discount")
	f.StringVar(&t.Correction, "correction", envString("HSUANWU_CORRECTION", "vtrace"),
		"off-policy correction (vtrace or none)")
	f.Float64Var(&t.EntropyCost, "entropy", envFloat("HSUANWU_ENTROPY", 0.01),
		"entropy bonus coefficient")
	f.IntVar(&t.Hidden, "hidden", envInt("HSUANWU_HIDDEN", 64), "hidden layer size")

	f.StringVar(&t.Intrinsic, "intrinsic", envString("HSUANWU_INTRINSIC", "none"),
		"intrinsic reward (none, count, or rnd)")
	f.Float64Var(&t.Beta, "beta", envFloat("HSUANWU_BETA", 0.05), "initial intrinsic weight")
	f.Float64Var(&t.Kappa, "kappa", envFloat("HSUANWU_KAPPA", 0.000025),
		"intrinsic weight decay per update")

	f.StringVar(&t.CheckpointDir, "checkpoints", envString("HSUANWU_CHECKPOINTS", ""),
		"checkpoint directory")
	f.Int64Var(&t.CheckpointEvery, "checkpoint-every",
		int64(envInt("HSUANWU_CHECKPOINT_EVERY", 1000)), "updates between checkpoints")
	f.StringVar(&t.Resume, "resume", envString("HSUANWU_RESUME", ""),
		"checkpoint to resume from (latest, a step, or a path)")

	f.StringVar(&t.MetricsPath, "metrics", envString("HSUANWU_METRICS", ""),
		"parquet file for training events")
	f.BoolVar(&t.LogEpisodes, "log-episodes", envBool("HSUANWU_LOG_EPISODES", true),
		"print every finished episode")

	f.Int64Var(&t.Seed, "seed", int64(envInt("HSUANWU_SEED", 1)), "environment seed")
	f.IntVar(&t.MaxEpisodeSteps, "max-episode-steps", envInt("HSUANWU_MAX_EPISODE_STEPS", 500),
		"episode length limit")
}

func train(flags *trainFlags) error {
	if flags.Workers < 1 {
		return errNoWorkers
	}
	correction, err := impala.ParseCorrectionKind(flags.Correction)
	if err != nil {
		return err
	}
	bonusKind, err := intrinsic.ParseKind(flags.Intrinsic)
	if err != nil {
		return err
	}
	creator := anyvec64.DefaultCreator{}

	var store *impala.CheckpointStore
	if flags.CheckpointDir != "" {
		store, err = impala.NewCheckpointStore(flags.CheckpointDir)
		if err != nil {
			return err
		}
	}

	runID := uuid.NewString()
	agent := newAgent(creator, flags.Hidden)
	var ckpt *impala.Checkpoint
	if flags.Resume != "" {
		if store == nil {
			essentials.Die("--resume requires --checkpoints")
		}
		ckpt, err = store.Load(flags.Resume)
		if err != nil {
			essentials.Die(err)
		}
		agent, err = ckpt.Agent(hsuanwu.Softmax{})
		if err != nil {
			essentials.Die(err)
		}
		if ckpt.RunID != "" {
			runID = ckpt.RunID
		}
		log.Printf("Resuming run %s from step %d", runID, ckpt.Step)
	}

	logger := impala.MultiLogger{
		&impala.StandardLogger{
			Episode:    flags.LogEpisodes,
			Update:     true,
			Fault:      true,
			BatchError: true,
			Checkpoint: true,
		},
	}
	if flags.MetricsPath != "" {
		metrics, err := parquetlog.NewWriter(flags.MetricsPath, runID)
		if err != nil {
			return err
		}
		defer func() {
			if err := metrics.Close(); err != nil {
				log.Println("Error writing metrics:", err)
			}
		}()
		logger = append(logger, metrics)
	}

	bonus, err := intrinsic.New(intrinsic.Config{
		Kind:     bonusKind,
		Schedule: intrinsic.Schedule{Beta: flags.Beta, Kappa: flags.Kappa},
		Creator:  creator,
		ObsSize:  hsuanwu.CartPoleObsSize,
	})
	if err != nil {
		return err
	}

	config := impala.LearnerConfig{
		SegmentLength:   flags.SegmentLength,
		ObsSize:         hsuanwu.CartPoleObsSize,
		NumActions:      hsuanwu.CartPoleActions,
		StepSize:        flags.StepSize,
		AnnealSteps:     flags.AnnealSteps,
		Discount:        flags.Discount,
		Correction:      correction,
		EntropyCost:     flags.EntropyCost,
		Logger:          logger,
		Checkpoints:     store,
		CheckpointEvery: flags.CheckpointEvery,
		RunID:           runID,
		Bonus:           bonus,
	}
	learner, err := impala.NewLearner(agent, config)
	if err != nil {
		return err
	}
	if ckpt != nil {
		if err := learner.Restore(ckpt); err != nil {
			essentials.Die(err)
		}
	}

	trainer := &impala.Trainer{
		Learner:       learner,
		Envs:          cartPoleEnvs(flags.Workers, flags.Seed, flags.MaxEpisodeSteps),
		BatchSize:     flags.BatchSize,
		QueueCapacity: flags.QueueCapacity,
		MaxUpdates:    flags.Updates,
		Drain:         flags.Drain,
		Logger:        logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-rip.NewRIP().Chan():
			log.Println("Stopping training...")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("Run %s: press Ctrl+C to stop training.", runID)
	if err := trainer.Run(ctx); err != nil {
		return err
	}
	log.Printf("Finished at step %d", learner.Step())
	return nil
}

// newAgent creates a recurrent agent for CartPole.
//
// The base network is followed by an LSTM so that the
// agent's memory is carried between segments.
func newAgent(c anyvec.Creator, hidden int) *impala.Agent {
	return &impala.Agent{
		Base: anyrnn.Stack{
			&anyrnn.LayerBlock{
				Layer: anynet.Net{
					anynet.NewFC(c, hsuanwu.CartPoleObsSize, hidden),
					anynet.Tanh,
				},
			},
			anyrnn.NewLSTM(c, hidden, hidden),
		},
		Actor: &anyrnn.LayerBlock{
			Layer: anynet.NewFCZero(c, hidden, hsuanwu.CartPoleActions),
		},
		Critic: &anyrnn.LayerBlock{
			Layer: anynet.Net{
				anynet.NewFC(c, hidden, 32),
				anynet.ReLU,
				anynet.NewFCZero(c, 32, 1),
			},
		},
		ActionSpace: hsuanwu.Softmax{},
	}
}

func cartPoleEnvs(n int, seed int64, maxSteps int) []hsuanwu.Env {
	envs := make([]hsuanwu.Env, n)
	for i := range envs {
		env := hsuanwu.NewCartPole(seed + int64(i))
		env.MaxSteps = maxSteps
		envs[i] = env
	}
	return envs
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Ignoring %s: %v", key, err)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Ignoring %s: %v", key, err)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Ignoring %s: %v", key, err)
		return def
	}
	return b
}

var errNoWorkers = errors.New("at least one worker is required")
