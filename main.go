package main

import (
	"log"
	"os"
	"strings"
	"time"

	"dggames_back/admin"
	"dggames_back/authorization"
	"dggames_back/games"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.MaxAge = 12 * time.Hour

	origins := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if origins == "" {
		cfg.AllowAllOrigins = true
		return cfg
	}

	allowed := make([]string, 0)
	for _, origin := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}
	cfg.AllowOrigins = allowed
	cfg.AllowCredentials = true
	return cfg
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(cors.New(corsConfig()))
	r.MaxMultipartMemory = 50 << 20

	authModule, err := authorization.RegisterRoutes(r)
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}

	guard := authModule.Guard()

	if _, err := games.RegisterRoutes(r, guard); err != nil {
		log.Fatalf("register game routes: %v", err)
	}

	if _, err := admin.RegisterRoutes(r, guard); err != nil {
		log.Fatalf("register admin routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
