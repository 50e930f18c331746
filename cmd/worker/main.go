package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/uw-hai/crowdjs-server/internal/assign"
	"github.com/uw-hai/crowdjs-server/internal/config"
	"github.com/uw-hai/crowdjs-server/internal/controller"
	"github.com/uw-hai/crowdjs-server/internal/em"
	"github.com/uw-hai/crowdjs-server/internal/pomdp"
	"github.com/uw-hai/crowdjs-server/internal/queue"
	"github.com/uw-hai/crowdjs-server/internal/storage"
	"github.com/uw-hai/crowdjs-server/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	q, err := queue.NewRedisQueue(&cfg.Redis, &cfg.Worker)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer q.Close()

	taskRepo := storage.NewTaskRepo(db)
	questionRepo := storage.NewQuestionRepo(db)
	workerRepo := storage.NewWorkerRepo(db)
	answerRepo := storage.NewAnswerRepo(db)
	jobRepo := storage.NewInferenceJobRepo(db)

	cache, err := pomdp.NewFileCache(cfg.Pomdp.PolicyDir)
	if err != nil {
		log.Fatalf("Failed to open policy cache: %v", err)
	}
	provider := pomdp.NewProvider(cache, cfg.Pomdp.NumBins,
		cfg.Pomdp.RewardRequest, cfg.Pomdp.RewardCorrect, cfg.Pomdp.RewardIncorrect,
		pomdp.SolverConfig{
			Discount:        cfg.Pomdp.Discount,
			Timeout:         cfg.Pomdp.SolverTimeout,
			MaxIterations:   cfg.Pomdp.MaxIterations,
			Epsilon:         cfg.Pomdp.Epsilon,
			MaxBeliefPoints: cfg.Pomdp.MaxBeliefPoints,
		})

	w := worker.New(
		q,
		jobRepo,
		answerRepo,
		questionRepo,
		workerRepo,
		provider,
		em.DefaultConfig(),
		cfg.Worker.Concurrency,
		cfg.Worker.BatchSize,
	)

	// The scanner shares the controller's requeue path so a reclaimed slot
	// goes through the same conditional update as an API-driven requeue.
	ctrl := controller.New(controller.Deps{
		Tasks:     taskRepo,
		Questions: questionRepo,
		Answers:   answerRepo,
		Skills:    workerRepo,
		Queue:     assign.NewRedisQueue(q.Client(), cfg.Assign.DefaultStrategy),
		Policies:  provider,
		NumBins:   cfg.Pomdp.NumBins,
	})
	scanner := worker.NewScanner(answerRepo, ctrl, cfg.Assign.RequeueInterval)
	go scanner.Start(ctx)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down worker...")
		cancel()
	}()

	log.Println("Worker starting...")
	if err := w.Start(ctx); err != nil {
		log.Fatalf("Worker error: %v", err)
	}

	log.Println("Worker stopped")
}
