package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/academix/school-attendance-api/api/swagger"
	"github.com/academix/school-attendance-api/internal/handler"
	"github.com/academix/school-attendance-api/internal/middleware"
	"github.com/academix/school-attendance-api/internal/repository"
	"github.com/academix/school-attendance-api/internal/service"
	"github.com/academix/school-attendance-api/pkg/cache"
	"github.com/academix/school-attendance-api/pkg/config"
	"github.com/academix/school-attendance-api/pkg/database"
	"github.com/academix/school-attendance-api/pkg/faceclient"
	"github.com/academix/school-attendance-api/pkg/jobs"
	"github.com/academix/school-attendance-api/pkg/logger"
	corsmiddleware "github.com/academix/school-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/academix/school-attendance-api/pkg/middleware/requestid"
	"github.com/academix/school-attendance-api/pkg/storage"
)

// @title School Attendance API
// @version 1.0.0
// @description Attendance sessions, schedule conflict detection, and attendance statistics for schools.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	sessionRepo := repository.NewAttendanceSessionRepository(db)
	recordRepo := repository.NewAttendanceRecordRepository(db)
	adjustmentRepo := repository.NewAttendanceAdjustmentRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	scheduleRepo := repository.NewClassScheduleRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(teacherRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	statsSvc := service.NewStatsService(sessionRepo, recordRepo, directoryRepo, cacheRepo, cfg.Attendance.StatsCacheTTL, logr)
	statsWarmer := service.NewStatsWarmer(statsSvc, jobs.QueueConfig{Workers: 2, Logger: logr}, logr)

	faceMatcher := faceclient.New(cfg.Attendance.FaceServiceURL, cfg.Attendance.FaceTimeout)
	verifiers := service.NewVerifierRegistry(faceMatcher, cfg.Attendance.FaceTolerance)

	attendanceSvc := service.NewAttendanceService(
		sessionRepo, recordRepo, adjustmentRepo, directoryRepo,
		verifiers, statsWarmer, metricsSvc,
		service.AttendanceServiceOptions{
			QRTokenPrefix:    cfg.Attendance.QRTokenPrefix,
			BulkMaxBatchSize: cfg.Attendance.BulkMaxBatchSize,
		},
		validate, logr,
	)

	scheduleSvc := service.NewScheduleService(roomRepo, scheduleRepo, directoryRepo, validate, logr)

	var archive *storage.LocalStorage
	var signer *storage.SignedURLSigner
	if cfg.Exports.Enabled {
		archive, err = storage.NewLocalStorage(cfg.Exports.ArchiveDir)
		if err != nil {
			logr.Sugar().Warnw("export archive unavailable", "error", err)
			archive = nil
		} else {
			signer = storage.NewSignedURLSigner(cfg.JWT.Secret, cfg.Exports.DownloadTTL)
		}
	}
	exportSvc := service.NewExportService(sessionRepo, recordRepo, archive, signer, service.ExportServiceConfig{
		Enabled:      cfg.Exports.Enabled,
		MaxRows:      cfg.Exports.MaxRows,
		DateFormat:   cfg.Exports.DateFormat,
		DefaultTitle: cfg.Exports.DefaultTitle,
	}, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc, statsSvc, exportSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/attendance/exports/download", attendanceHandler.DownloadExport)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.GET("/auth/profile", authHandler.Profile)

		authed.POST("/attendance/sessions", attendanceHandler.CreateSession)
		authed.GET("/attendance/sessions", attendanceHandler.ListSessions)
		authed.GET("/attendance/sessions/:id", attendanceHandler.GetSession)
		authed.PATCH("/attendance/sessions/:id", attendanceHandler.UpdateSession)
		authed.POST("/attendance/sessions/:id/finalize", attendanceHandler.FinalizeSession)
		authed.GET("/attendance/sessions/:id/records", attendanceHandler.ListSessionRecords)
		authed.POST("/attendance/sessions/:id/records", attendanceHandler.RecordAttendance)
		authed.POST("/attendance/sessions/:id/records/bulk", attendanceHandler.BulkRecordAttendance)
		authed.POST("/attendance/sessions/:id/verify", attendanceHandler.VerifySession)
		authed.GET("/attendance/sessions/:id/stats", attendanceHandler.SessionStats)
		authed.GET("/attendance/sessions/:id/export", attendanceHandler.ExportSession)
		authed.GET("/attendance/classes/:classId/active-session", attendanceHandler.GetActiveSession)
		authed.GET("/attendance/classes/:classId/summary", attendanceHandler.ClassSummary)
		authed.GET("/attendance/students/:studentId/rate", attendanceHandler.StudentRate)
		authed.GET("/attendance/students/:studentId/history", attendanceHandler.StudentHistory)
		authed.GET("/attendance/students/:studentId/export", attendanceHandler.ExportStudentHistory)
		authed.POST("/attendance/records/:id/adjustments", attendanceHandler.AdjustRecord)
		authed.GET("/attendance/records/:id/adjustments", attendanceHandler.ListRecordAdjustments)

		authed.GET("/rooms", scheduleHandler.ListRooms)
		authed.POST("/rooms", scheduleHandler.CreateRoom)
		authed.GET("/rooms/:id", scheduleHandler.GetRoom)
		authed.PUT("/rooms/:id", scheduleHandler.UpdateRoom)
		authed.DELETE("/rooms/:id", scheduleHandler.DeleteRoom)

		authed.GET("/schedules", scheduleHandler.ListSchedules)
		authed.POST("/schedules", scheduleHandler.CreateSchedule)
		authed.POST("/schedules/check-conflict", scheduleHandler.CheckConflict)
		authed.GET("/schedules/:id", scheduleHandler.GetSchedule)
		authed.PUT("/schedules/:id", scheduleHandler.UpdateSchedule)
		authed.DELETE("/schedules/:id", scheduleHandler.DeleteSchedule)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statsWarmer.Queue().Start(ctx)
	defer statsWarmer.Queue().Stop()

	if archive != nil {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					removed, err := archive.CleanupOlderThan(cfg.Exports.DownloadTTL)
					if err != nil {
						logr.Sugar().Warnw("export archive cleanup failed", "error", err)
					} else if removed > 0 {
						logr.Sugar().Infow("export archive cleaned", "removed", removed)
					}
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
