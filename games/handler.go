package games

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"dggames_back/authorization"
	"dggames_back/cache"
	"dggames_back/storage"
)

// Module owns the game catalog: records, the on-disk asset store, the
// optional object-storage mirror and the listing cache.
type Module struct {
	db        *gorm.DB
	store     *assetStore
	mirror    *storage.AssetMirror
	listCache *listCache
}

// RegisterRoutes mounts the game catalog under /games and serves the asset
// store under /uploads.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Game{}, &Like{}); err != nil {
		return nil, fmt.Errorf("games: migrate schema: %w", err)
	}

	store, err := newAssetStoreFromEnv()
	if err != nil {
		return nil, err
	}

	mirror, err := storage.NewAssetMirrorFromEnv()
	if err != nil {
		log.Printf("games: asset mirror disabled: %v", err)
		mirror = nil
	}

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		log.Printf("games: listing cache disabled: %v", err)
		redisClient = nil
	}

	module := &Module{
		db:        db,
		store:     store,
		mirror:    mirror,
		listCache: newListCache(redisClient),
	}
	module.mountRoutes(router, guard.RequireAuthenticated(), guard.OptionalAuthenticated())
	return module, nil
}

func (m *Module) mountRoutes(router *gin.Engine, requireAuth, optionalAuth gin.HandlerFunc) {
	router.Static("/uploads", m.store.Root())

	games := router.Group("/games")
	games.GET("", m.handleListGames)
	games.GET("/:id", m.handleGetGame)
	games.GET("/:id/play", m.handleServeGame)
	games.POST("/:id/play", m.handleRecordPlay)
	games.GET("/:id/like", optionalAuth, m.handleCheckLike)

	secured := router.Group("/games")
	secured.Use(requireAuth)
	secured.POST("", m.handleUploadGame)
	secured.GET("/mine", m.handleListMyGames)
	secured.PUT("/:id", m.handleEditGame)
	secured.DELETE("/:id", m.handleDeleteGame)
	secured.POST("/:id/like", m.handleLikeGame)
	secured.DELETE("/:id/like", m.handleUnlikeGame)
}

type gameSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	GameType    string `json:"gameType"`
	Image       string `json:"image"`
	Likes       int64  `json:"likes"`
	Plays       int64  `json:"plays"`
}

type gameResponse struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Content     string       `json:"content,omitempty"`
	Category    string       `json:"category"`
	GameType    string       `json:"gameType"`
	Image       string       `json:"image"`
	Author      string       `json:"author"`
	Files       GameFiles    `json:"files"`
	Settings    GameSettings `json:"settings"`
	Likes       int64        `json:"likes"`
	Plays       int64        `json:"plays"`
	GameDirName string       `json:"gameDirName"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

func toGameSummary(game *Game) gameSummary {
	return gameSummary{
		ID:          game.ID,
		Title:       game.Title,
		Description: game.Description,
		Category:    game.Category,
		GameType:    game.GameType,
		Image:       game.Image,
		Likes:       game.Likes,
		Plays:       game.Plays,
	}
}

func toGameResponse(game *Game) gameResponse {
	return gameResponse{
		ID:          game.ID,
		Title:       game.Title,
		Description: game.Description,
		Content:     game.Content,
		Category:    game.Category,
		GameType:    game.GameType,
		Image:       game.Image,
		Author:      game.ResolveAuthorID(),
		Files:       game.FileRefs(),
		Settings:    game.SettingsOrDefault(),
		Likes:       game.Likes,
		Plays:       game.Plays,
		GameDirName: effectiveDirName(game),
		CreatedAt:   game.CreatedAt,
		LastUpdated: game.LastUpdated,
	}
}

// effectiveDirName derives the directory for rows created before the
// directory name was persisted alongside the record.
func effectiveDirName(game *Game) string {
	if strings.TrimSpace(game.GameDirName) != "" {
		return game.GameDirName
	}
	return "game_" + game.ID
}

func currentUserIdentity(c *gin.Context) string {
	return authorization.UserIDFromClaims(jwt.ExtractClaims(c))
}

func (m *Module) loadGame(c *gin.Context, id string) (*Game, bool) {
	var game Game
	if err := m.db.WithContext(c.Request.Context()).First(&game, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		} else {
			log.Printf("games: load game %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game"})
		}
		return nil, false
	}
	return &game, true
}

// requireOwner resolves the stored author identity and rejects callers who
// do not own the record.
func requireOwner(c *gin.Context, game *Game) (string, bool) {
	identity := currentUserIdentity(c)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	if game.ResolveAuthorID() != identity {
		c.JSON(http.StatusForbidden, gin.H{"error": "you do not own this game"})
		return "", false
	}
	return identity, true
}

func (m *Module) handleUploadGame(c *gin.Context) {
	identity := currentUserIdentity(c)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	form, err := bindUploadGameForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uuid.NewString()
	dirName := "game_" + id
	refs := GameFiles{AssetFiles: []string{}, Thumbnails: []string{}}

	fail := func(status int, message string, cause error) {
		if cause != nil {
			log.Printf("games: upload %s: %v", id, cause)
		}
		if err := m.store.RemoveGameDir(dirName); err != nil {
			log.Printf("games: upload cleanup %s: %v", dirName, err)
		}
		c.JSON(status, gin.H{"error": message})
	}

	mainURL, err := m.store.SaveUpload(form.Main, dirName)
	if err != nil {
		fail(uploadErrorStatus(err), "failed to store main game file", err)
		return
	}
	refs.MainFile = mainURL

	for _, asset := range form.Assets {
		if isArchiveUpload(asset.Filename) {
			extracted, err := m.store.ExtractArchive(asset, dirName)
			if err != nil {
				fail(uploadErrorStatus(err), "failed to expand asset archive", err)
				return
			}
			refs.AssetFiles = append(refs.AssetFiles, extracted...)
			continue
		}
		assetURL, err := m.store.SaveUpload(asset, dirName)
		if err != nil {
			fail(uploadErrorStatus(err), "failed to store asset file", err)
			return
		}
		refs.AssetFiles = append(refs.AssetFiles, assetURL)
	}

	image := placeholderImageURL
	if form.Thumbnail != nil {
		thumbURL, err := m.store.SaveUpload(form.Thumbnail, dirName)
		if err != nil {
			fail(uploadErrorStatus(err), "failed to store thumbnail", err)
			return
		}
		image = thumbURL
		refs.Thumbnails = append(refs.Thumbnails, thumbURL)
	}

	settings := defaultSettings()
	if form.Settings != nil {
		settings = *form.Settings
	}

	game := Game{
		ID:          id,
		Title:       form.Title,
		Description: form.Description,
		Content:     form.Content,
		Category:    form.Category,
		GameType:    form.GameType,
		Image:       image,
		Author:      identity,
		GameDirName: dirName,
		LastUpdated: time.Now().UTC(),
	}
	if err := game.SetFileRefs(refs); err != nil {
		fail(http.StatusInternalServerError, "failed to store game", err)
		return
	}
	encodedSettings, err := encodeSettings(settings)
	if err != nil {
		fail(http.StatusInternalServerError, "failed to store game", err)
		return
	}
	game.Settings = encodedSettings

	if err := m.db.WithContext(c.Request.Context()).Create(&game).Error; err != nil {
		fail(http.StatusInternalServerError, "failed to store game", err)
		return
	}

	m.mirrorGameFiles(c.Request.Context(), &refs, game.Image)
	m.listCache.Invalidate(c.Request.Context())

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Game uploaded successfully",
		"game":    gin.H{"id": game.ID, "title": game.Title},
	})
}

func uploadErrorStatus(err error) int {
	if errors.Is(err, errUploadTooLarge) || errors.Is(err, errUnsafeArchive) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (m *Module) handleListGames(c *gin.Context) {
	limit := parseListLimit(c.Query("limit"))

	if items, ok := m.listCache.Get(c.Request.Context(), limit); ok {
		c.JSON(http.StatusOK, items)
		return
	}

	var games []Game
	if err := m.db.WithContext(c.Request.Context()).
		Order("likes DESC").
		Limit(limit).
		Find(&games).Error; err != nil {
		log.Printf("games: list games: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list games"})
		return
	}

	items := make([]gameSummary, 0, len(games))
	for i := range games {
		items = append(items, toGameSummary(&games[i]))
	}

	m.listCache.Store(c.Request.Context(), limit, items)
	c.JSON(http.StatusOK, items)
}

func parseListLimit(raw string) int {
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func (m *Module) handleListMyGames(c *gin.Context) {
	identity := currentUserIdentity(c)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var games []Game
	if err := m.db.WithContext(c.Request.Context()).
		Where("author = ? OR author_id = ?", identity, identity).
		Order("last_updated DESC").
		Find(&games).Error; err != nil {
		log.Printf("games: list games for %s: %v", identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list games"})
		return
	}

	items := make([]gameResponse, 0, len(games))
	for i := range games {
		items = append(items, toGameResponse(&games[i]))
	}
	c.JSON(http.StatusOK, items)
}

func (m *Module) handleGetGame(c *gin.Context) {
	game, ok := m.loadGame(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toGameResponse(game))
}

func (m *Module) handleEditGame(c *gin.Context) {
	game, ok := m.loadGame(c, c.Param("id"))
	if !ok {
		return
	}
	if _, ok := requireOwner(c, game); !ok {
		return
	}

	form, err := bindEditGameForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if form.RemoveImageFile && form.Image == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a cover image is required; upload a replacement instead of removing it"})
		return
	}

	dirName := effectiveDirName(game)
	refs := game.FileRefs()
	filesChanged := false
	updates := map[string]interface{}{}

	if game.GameDirName == "" {
		updates["game_dir_name"] = dirName
	}
	if form.Title != nil {
		updates["title"] = *form.Title
	}
	if form.Description != nil {
		updates["description"] = *form.Description
	}
	if form.Category != nil {
		updates["category"] = *form.Category
	}
	if form.GameType != nil {
		updates["game_type"] = *form.GameType
	}
	if form.Content != nil {
		updates["content"] = *form.Content
	}
	if form.Settings != nil {
		encoded, err := encodeSettings(*form.Settings)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update game"})
			return
		}
		updates["settings"] = encoded
	}

	if form.Image != nil {
		name := fmt.Sprintf("game_%s_%d%s", game.ID, time.Now().UnixMilli(), strings.ToLower(fileExt(form.Image.Filename)))
		imageURL, err := m.store.SaveUploadAs(form.Image, dirName, name)
		if err != nil {
			c.JSON(uploadErrorStatus(err), gin.H{"error": "failed to store cover image"})
			return
		}
		m.removeStoredFile(c.Request.Context(), game.Image)
		m.mirrorStoredFile(c.Request.Context(), imageURL)
		updates["image"] = imageURL
		refs.Thumbnails = []string{imageURL}
		filesChanged = true
	}

	switch {
	case form.GameFile != nil:
		mainURL, err := m.store.SaveUpload(form.GameFile, dirName)
		if err != nil {
			c.JSON(uploadErrorStatus(err), gin.H{"error": "failed to store main game file"})
			return
		}
		if refs.MainFile != "" && refs.MainFile != mainURL {
			m.removeStoredFile(c.Request.Context(), refs.MainFile)
		}
		m.mirrorStoredFile(c.Request.Context(), mainURL)
		refs.MainFile = mainURL
		filesChanged = true
	case form.RemoveGameFile:
		m.removeStoredFile(c.Request.Context(), refs.MainFile)
		refs.MainFile = ""
		filesChanged = true
	}

	if len(form.RemoveAssetFiles) > 0 {
		removals := make(map[string]bool, len(form.RemoveAssetFiles))
		for _, target := range form.RemoveAssetFiles {
			removals[target] = true
			m.removeStoredFile(c.Request.Context(), target)
		}
		kept := refs.AssetFiles[:0]
		for _, asset := range refs.AssetFiles {
			if !removals[asset] {
				kept = append(kept, asset)
			}
		}
		refs.AssetFiles = kept
		filesChanged = true
	}

	for _, asset := range form.Assets {
		if isArchiveUpload(asset.Filename) {
			extracted, err := m.store.ExtractArchive(asset, dirName)
			if err != nil {
				c.JSON(uploadErrorStatus(err), gin.H{"error": "failed to expand asset archive"})
				return
			}
			for _, assetURL := range extracted {
				m.mirrorStoredFile(c.Request.Context(), assetURL)
			}
			refs.AssetFiles = append(refs.AssetFiles, extracted...)
			filesChanged = true
			continue
		}
		assetURL, err := m.store.SaveUpload(asset, dirName)
		if err != nil {
			c.JSON(uploadErrorStatus(err), gin.H{"error": "failed to store asset file"})
			return
		}
		m.mirrorStoredFile(c.Request.Context(), assetURL)
		refs.AssetFiles = append(refs.AssetFiles, assetURL)
		filesChanged = true
	}

	if filesChanged {
		encoded, err := encodeFileRefs(refs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update game"})
			return
		}
		updates["files"] = encoded
	}
	updates["last_updated"] = time.Now().UTC()

	if err := m.db.WithContext(c.Request.Context()).
		Model(&Game{}).
		Where("id = ?", game.ID).
		Updates(updates).Error; err != nil {
		log.Printf("games: update game %s: %v", game.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update game"})
		return
	}

	m.listCache.Invalidate(c.Request.Context())

	fields := make([]string, 0, len(updates))
	for field := range updates {
		fields = append(fields, field)
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Game updated successfully",
		"id":            game.ID,
		"updatedFields": fields,
	})
}

func (m *Module) handleDeleteGame(c *gin.Context) {
	game, ok := m.loadGame(c, c.Param("id"))
	if !ok {
		return
	}
	if _, ok := requireOwner(c, game); !ok {
		return
	}

	m.cleanupGameFiles(c.Request.Context(), game)

	if err := m.db.WithContext(c.Request.Context()).Delete(&Game{}, "id = ?", game.ID).Error; err != nil {
		log.Printf("games: delete game %s: %v", game.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete game"})
		return
	}
	if err := m.db.WithContext(c.Request.Context()).Delete(&Like{}, "game_id = ?", game.ID).Error; err != nil {
		log.Printf("games: delete likes for %s: %v", game.ID, err)
	}

	m.listCache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Game deleted successfully"})
}

// cleanupGameFiles is the single policy point for disk and mirror cleanup on
// delete: failures are logged and the record deletion proceeds regardless.
func (m *Module) cleanupGameFiles(ctx context.Context, game *Game) {
	dirName := effectiveDirName(game)

	if game.Image != "" && !isPlaceholderImage(game.Image) {
		m.removeStoredFile(ctx, game.Image)
	}
	// legacy rows may reference files outside the derived directory
	refs := game.FileRefs()
	m.removeStoredFile(ctx, refs.MainFile)
	for _, asset := range refs.AssetFiles {
		m.removeStoredFile(ctx, asset)
	}
	if err := m.store.RemoveGameDir(dirName); err != nil {
		log.Printf("games: cleanup %s: %v", dirName, err)
	}
	if err := m.mirror.RemovePrefix(ctx, uploadsURLPrefix+gamesSubdir+"/"+dirName); err != nil {
		log.Printf("games: cleanup mirror %s: %v", dirName, err)
	}
}

func (m *Module) removeStoredFile(ctx context.Context, relURL string) {
	if relURL == "" || isPlaceholderImage(relURL) || !strings.HasPrefix(relURL, uploadsURLPrefix) {
		return
	}
	if err := m.store.RemoveByURL(relURL); err != nil {
		log.Printf("games: remove %s: %v", relURL, err)
	}
	if err := m.mirror.Remove(ctx, relURL); err != nil {
		log.Printf("games: remove mirrored %s: %v", relURL, err)
	}
}

func (m *Module) mirrorStoredFile(ctx context.Context, relURL string) {
	if m.mirror == nil || relURL == "" {
		return
	}
	local, err := m.store.LocalPath(relURL)
	if err != nil {
		return
	}
	if err := m.mirror.Upload(ctx, relURL, local); err != nil {
		log.Printf("games: mirror %s: %v", relURL, err)
	}
}

func (m *Module) mirrorGameFiles(ctx context.Context, refs *GameFiles, image string) {
	if m.mirror == nil {
		return
	}
	if refs.MainFile != "" {
		m.mirrorStoredFile(ctx, refs.MainFile)
	}
	for _, asset := range refs.AssetFiles {
		m.mirrorStoredFile(ctx, asset)
	}
	if image != "" && !isPlaceholderImage(image) {
		m.mirrorStoredFile(ctx, image)
	}
}

func (m *Module) handleLikeGame(c *gin.Context) {
	identity := currentUserIdentity(c)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	game, ok := m.loadGame(c, c.Param("id"))
	if !ok {
		return
	}

	var existing int64
	if err := m.db.WithContext(c.Request.Context()).
		Model(&Like{}).
		Where("game_id = ? AND user_id = ?", game.ID, identity).
		Count(&existing).Error; err != nil {
		log.Printf("games: check like %s/%s: %v", game.ID, identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to like game"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you have already liked this game"})
		return
	}

	if err := m.db.WithContext(c.Request.Context()).
		Create(&Like{GameID: game.ID, UserID: identity}).Error; err != nil {
		// the unique index wins races between concurrent likes
		c.JSON(http.StatusBadRequest, gin.H{"error": "you have already liked this game"})
		return
	}
	if err := m.db.WithContext(c.Request.Context()).
		Model(&Game{}).
		Where("id = ?", game.ID).
		UpdateColumn("likes", gorm.Expr("likes + 1")).Error; err != nil {
		log.Printf("games: increment likes %s: %v", game.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to like game"})
		return
	}

	m.listCache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Game liked successfully"})
}

func (m *Module) handleUnlikeGame(c *gin.Context) {
	identity := currentUserIdentity(c)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	game, ok := m.loadGame(c, c.Param("id"))
	if !ok {
		return
	}

	result := m.db.WithContext(c.Request.Context()).
		Delete(&Like{}, "game_id = ? AND user_id = ?", game.ID, identity)
	if result.Error != nil {
		log.Printf("games: remove like %s/%s: %v", game.ID, identity, result.Error)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unlike game"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you have not liked this game"})
		return
	}

	// the counter never drops below zero even if it drifted from the like rows
	if err := m.db.WithContext(c.Request.Context()).
		Model(&Game{}).
		Where("id = ?", game.ID).
		UpdateColumn("likes", gorm.Expr("CASE WHEN likes > 0 THEN likes - 1 ELSE 0 END")).Error; err != nil {
		log.Printf("games: decrement likes %s: %v", game.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unlike game"})
		return
	}

	m.listCache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Like removed successfully"})
}

func (m *Module) handleCheckLike(c *gin.Context) {
	identity := currentUserIdentity(c)
	if identity == "" {
		c.JSON(http.StatusOK, gin.H{"hasLiked": false})
		return
	}

	var count int64
	if err := m.db.WithContext(c.Request.Context()).
		Model(&Like{}).
		Where("game_id = ? AND user_id = ?", c.Param("id"), identity).
		Count(&count).Error; err != nil {
		log.Printf("games: check like %s/%s: %v", c.Param("id"), identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check like"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hasLiked": count > 0})
}

func (m *Module) handleRecordPlay(c *gin.Context) {
	result := m.db.WithContext(c.Request.Context()).
		Model(&Game{}).
		Where("id = ?", c.Param("id")).
		UpdateColumn("plays", gorm.Expr("plays + 1"))
	if result.Error != nil {
		log.Printf("games: record play %s: %v", c.Param("id"), result.Error)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record play"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}

	m.listCache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Play recorded successfully"})
}

func (m *Module) handleServeGame(c *gin.Context) {
	game, ok := m.loadGame(c, c.Param("id"))
	if !ok {
		return
	}

	if game.GameType == gameTypeText {
		c.JSON(http.StatusOK, gin.H{"content": game.Content})
		return
	}

	refs := game.FileRefs()
	if refs.MainFile == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "game file not found"})
		return
	}
	local, err := m.store.LocalPath(refs.MainFile)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "game file not found"})
		return
	}
	if _, err := os.Stat(local); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "game file not found"})
		return
	}
	c.File(local)
}

func fileExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx:]
	}
	return ""
}
