package api

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/api/handler"
	"github.com/uw-hai/crowdjs-server/internal/assign"
	"github.com/uw-hai/crowdjs-server/internal/config"
	"github.com/uw-hai/crowdjs-server/internal/controller"
	"github.com/uw-hai/crowdjs-server/internal/pomdp"
	"github.com/uw-hai/crowdjs-server/internal/queue"
	"github.com/uw-hai/crowdjs-server/internal/storage"
	"github.com/uw-hai/crowdjs-server/internal/webhook"
	"github.com/uw-hai/crowdjs-server/internal/worker"
)

type Router struct {
	engine *gin.Engine
}

func NewRouter(cfg *config.Config, db *storage.PostgresDB, q *queue.RedisQueue) (*Router, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	taskRepo := storage.NewTaskRepo(db)
	questionRepo := storage.NewQuestionRepo(db)
	workerRepo := storage.NewWorkerRepo(db)
	answerRepo := storage.NewAnswerRepo(db)
	jobRepo := storage.NewInferenceJobRepo(db)

	cache, err := pomdp.NewFileCache(cfg.Pomdp.PolicyDir)
	if err != nil {
		return nil, err
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

	assignQueue := assign.NewRedisQueue(q.Client(), cfg.Assign.DefaultStrategy)
	enqueuer := worker.NewEnqueuer(jobRepo, q)

	ctrl := controller.New(controller.Deps{
		Tasks:     taskRepo,
		Questions: questionRepo,
		Answers:   answerRepo,
		Skills:    workerRepo,
		Queue:     assignQueue,
		Policies:  provider,
		Jobs:      enqueuer,
		Notifier:  webhook.NewClient(10 * time.Second),
		NumBins:   cfg.Pomdp.NumBins,
	})

	log.Printf("Router wired with default assignment strategy %q", cfg.Assign.DefaultStrategy)

	taskHandler := handler.NewTaskHandler(taskRepo, questionRepo, ctrl)
	questionHandler := handler.NewQuestionHandler(questionRepo, taskRepo, ctrl)
	assignmentHandler := handler.NewAssignmentHandler(ctrl, workerRepo)
	answerHandler := handler.NewAnswerHandler(ctrl, workerRepo, answerRepo)
	inferenceHandler := handler.NewInferenceHandler(enqueuer, jobRepo)
	workerHandler := handler.NewWorkerHandler(workerRepo)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.Create)
			tasks.GET("", taskHandler.List)
			tasks.GET("/:id", taskHandler.GetByID)
			tasks.GET("/:id/questions", taskHandler.Questions)
			tasks.GET("/:id/status", taskHandler.Status)
			tasks.GET("/:id/workers", taskHandler.WorkerMetrics)
			tasks.POST("/:id/assignments", assignmentHandler.Next)
			tasks.POST("/:id/requeue", assignmentHandler.Requeue)
			tasks.POST("/:id/inference", inferenceHandler.Start)
			tasks.GET("/:id/inference", inferenceHandler.ListByTask)
		}

		questions := v1.Group("/questions")
		{
			questions.POST("", questionHandler.Create)
			questions.GET("/:id", questionHandler.GetByID)
		}

		answers := v1.Group("/answers")
		{
			answers.PUT("", answerHandler.Submit)
			answers.GET("/:id", answerHandler.GetByID)
		}

		v1.GET("/workers/:id", workerHandler.GetByID)
		v1.GET("/inference-jobs/:id", inferenceHandler.GetByID)
	}

	return &Router{engine: engine}, nil
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
