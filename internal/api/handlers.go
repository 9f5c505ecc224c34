package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"pigeon/internal/auth"
	"pigeon/internal/chat"
	"pigeon/internal/filestore"
	"pigeon/internal/models"
	"pigeon/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxImageSize = 10 << 20 // 10 MiB

type API struct {
	auth    *auth.AuthService
	engine  *chat.Engine
	files   filestore.FileStore
	storage *storage.BboltStorage
	baseURL string
}

func New(authService *auth.AuthService, engine *chat.Engine, files filestore.FileStore, storage *storage.BboltStorage, baseURL string) *API {
	return &API{auth: authService, engine: engine, files: files, storage: storage, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	loginResp := a.auth.Login(req)
	if !loginResp.Success {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, loginResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})
	writeJSON(w, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

// RequireAuth resolves the request's token to a user id before the handler
// runs. The handlers below never see unauthenticated requests.
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

// UsersHandler lists everyone except the requester, for the conversation
// sidebar.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := a.engine.Users(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, users)
}

// MessagesHandler returns the conversation with the peer, oldest first.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	msgs, err := a.engine.Messages(userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Text  string `json:"text"`
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := a.engine.Send(userID, r.PathValue("id"), req.Text, req.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, msg)
}

func (a *API) EditMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := a.engine.Edit(userID, r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msg)
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if err := a.engine.Delete(userID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ReactHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	reactions, err := a.engine.React(userID, r.PathValue("id"), req.Emoji)
	if err != nil {
		writeError(w, err)
		return
	}
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	writeJSON(w, reactions)
}

// UploadImageHandler stores an image content-addressed and returns the id
// and serving URL to put into a message's image field.
func (a *API) UploadImageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImageSize+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) > maxImageSize {
		http.Error(w, "Image too large", http.StatusRequestEntityTooLarge)
		return
	}

	kind, err := filetype.Match(data)
	if err != nil || kind.MIME.Type != "image" {
		writeError(w, fmt.Errorf("uploaded data is not an image: %w", models.ErrValidation))
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := a.files.Save(bytes.NewReader(data), hash); err != nil {
		log.Printf("failed to save image: %v", err)
		http.Error(w, "Failed to store image", http.StatusInternalServerError)
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      int64(len(data)),
		CreatedAt: time.Now().Unix(),
		UserID:    userID,
	}
	if err := a.storage.UpsertFileMetadata(meta); err != nil {
		log.Printf("failed to save image metadata: %v", err)
		http.Error(w, "Failed to store image", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{
		"id":  meta.ID,
		"url": a.baseURL + "/api/images/" + meta.ID,
	})
}

func (a *API) GetImageHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.storage.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := a.files.Get(meta.Hash)
	if err != nil {
		writeError(w, fmt.Errorf("image blob missing: %w", models.ErrNotFound))
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream image %s: %v", meta.ID, err)
	}
}

func getToken(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// writeError maps the domain error taxonomy onto status codes with a
// machine-readable code in the body.
func writeError(w http.ResponseWriter, err error) {
	code := "internal"
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		code, status = "validation", http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		code, status = "not_found", http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		code, status = "forbidden", http.StatusForbidden
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": err.Error(),
	}); encErr != nil {
		log.Printf("failed to encode error response: %v", encErr)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
