package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"huddle/internal/auth"
	"huddle/internal/chat"
	"huddle/internal/content"
	"huddle/internal/filestore"
	"huddle/internal/models"
	"huddle/internal/presence"
	"huddle/internal/session"
	"huddle/internal/storage"
	"huddle/internal/timelog"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxUploadSize = 10 << 20 // 10 MiB

type API struct {
	auth     *auth.AuthService
	sessions *session.Manager
	chats    *chat.Service
	timelog  *timelog.Service
	tracker  *presence.Tracker
	files    filestore.FileStore
	storage  *storage.BboltStorage

	vapidPublicKey string
}

func New(
	authService *auth.AuthService,
	sessions *session.Manager,
	chats *chat.Service,
	timelogService *timelog.Service,
	tracker *presence.Tracker,
	files filestore.FileStore,
	store *storage.BboltStorage,
	vapidPublicKey string,
) *API {
	return &API{
		auth:           authService,
		sessions:       sessions,
		chats:          chats,
		timelog:        timelogService,
		tracker:        tracker,
		files:          files,
		storage:        store,
		vapidPublicKey: vapidPublicKey,
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Message: message})
}

type contextKey string

const userIDKey contextKey = "userID"

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the bearer token and puts the account ID into the
// request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceToken string `json:"deviceToken,omitempty"`
	// Force displaces whichever device currently holds the session.
	Force bool `json:"force,omitempty"`
}

type loginResponse struct {
	apiResponse
	Code        string      `json:"code,omitempty"`
	Token       string      `json:"token,omitempty"`
	DeviceToken string      `json:"deviceToken,omitempty"`
	User        models.User `json:"user,omitempty"`
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	login := a.sessions.Login
	if req.Force {
		login = a.sessions.TakeOver
	}
	res, err := login(req.Email, req.Password, req.DeviceToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionConflict):
			writeJSON(w, http.StatusConflict, loginResponse{
				apiResponse: apiResponse{Message: err.Error()},
				Code:        "session-conflict",
			})
		case errors.Is(err, models.ErrInvalidCredentials):
			writeJSON(w, http.StatusUnauthorized, loginResponse{
				apiResponse: apiResponse{Message: "Login failed"},
			})
		default:
			log.Printf("login failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    res.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Now().Add(a.auth.TokenExpiry),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		apiResponse: apiResponse{Success: true},
		Token:       res.Token,
		DeviceToken: res.DeviceToken,
		User:        res.User,
	})
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		if err := a.sessions.Logout(token); err != nil {
			log.Printf("logout failed: %v", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

type registerRequest struct {
	Email    string `json:"email"`
	UserName string `json:"userName"`
	Password string `json:"password"`
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := content.ValidateUsername(req.UserName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.auth.CreateAccount(req.Email, content.Sanitize(req.UserName), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "User already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.auth.GetUser(requestUserID(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user.Presence = a.tracker.Status(user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.GetUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	for i := range users {
		users[i].Presence = a.tracker.Status(users[i].ID)
	}
	writeJSON(w, http.StatusOK, users)
}

type updateProfileRequest struct {
	UserName string `json:"userName"`
}

func (a *API) UpdateDisplayNameHandler(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := content.ValidateUsername(req.UserName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.UpdateProfile(requestUserID(r), content.Sanitize(req.UserName), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

// StatusHandler lets a signed-in user set their own presence manually.
func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status := models.DecodeStatus(string(req.Status))
	a.tracker.SetStatus(requestUserID(r), status)
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

// conversationView is the conversation list entry: the stored record plus
// the display name resolved for the requesting user.
type conversationView struct {
	models.Conversation
	DisplayName string `json:"displayName"`
}

func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	ids, err := a.chats.ConversationIDs(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}

	views := make([]conversationView, 0, len(ids))
	for _, id := range ids {
		conv, err := a.storage.GetConversation(id)
		if err != nil {
			continue
		}
		view := conversationView{Conversation: conv, DisplayName: conv.Name}
		if other, ok := chat.DMCounterpart(userID, id); ok {
			if u, err := a.auth.GetUser(other); err == nil {
				view.DisplayName = u.UserName
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type createDMRequest struct {
	UserID string `json:"userId"`
}

func (a *API) CreateDMHandler(w http.ResponseWriter, r *http.Request) {
	var req createDMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := a.auth.GetUser(req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	conv, err := a.chats.EnsureDM(requestUserID(r), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (a *API) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	group, err := a.chats.CreateGroup(req.Name, requestUserID(r), req.Members, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) GroupsHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	groups, err := a.storage.ListGroups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list groups")
		return
	}
	var mine []models.Group
	for _, g := range groups {
		for _, m := range g.Members {
			if m == userID {
				mine = append(mine, g)
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, mine)
}

type memberRequest struct {
	UserID string `json:"userId"`
}

func (a *API) requireGroupMember(w http.ResponseWriter, r *http.Request, groupID string) bool {
	if err := a.chats.CanAccess(requestUserID(r), groupID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Group not found")
		} else {
			writeError(w, http.StatusForbidden, "Not a group member")
		}
		return false
	}
	return true
}

func (a *API) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if !a.requireGroupMember(w, r, groupID) {
		return
	}
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	group, err := a.chats.AddMember(groupID, req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if !a.requireGroupMember(w, r, groupID) {
		return
	}
	group, err := a.chats.RemoveMember(groupID, r.PathValue("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	from := queryInt(r, "from", 1)
	to := queryInt(r, "to", int64(1)<<62)

	msgs, err := a.chats.Messages(requestUserID(r), conversationID, from, to)
	if err != nil {
		a.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	sender, err := a.auth.GetUser(requestUserID(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	msg, err := a.chats.SendMessage(sender, r.PathValue("id"), req.Content, req.Attachments)
	if err != nil {
		a.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type markReadRequest struct {
	Seqs []int64 `json:"seqs"`
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.chats.MarkRead(requestUserID(r), r.PathValue("id"), req.Seqs); err != nil {
		a.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

type reactRequest struct {
	Seq   int64  `json:"seq"`
	Emoji string `json:"emoji"`
}

func (a *API) ReactHandler(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	msg, err := a.chats.React(requestUserID(r), r.PathValue("id"), req.Seq, req.Emoji)
	if err != nil {
		a.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type threadReplyRequest struct {
	ParentSeq int64  `json:"parentSeq"`
	Content   string `json:"content"`
}

func (a *API) ThreadReplyHandler(w http.ResponseWriter, r *http.Request) {
	sender, err := a.auth.GetUser(requestUserID(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req threadReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	reply, err := a.chats.ReplyInThread(sender, r.PathValue("id"), req.ParentSeq, req.Content)
	if err != nil {
		a.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (a *API) ThreadRepliesHandler(w http.ResponseWriter, r *http.Request) {
	parentSeq := queryInt(r, "parentSeq", 0)
	replies, err := a.chats.ThreadReplies(requestUserID(r), r.PathValue("id"), parentSeq)
	if err != nil {
		a.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replies)
}

func (a *API) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Permission denied")
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	default:
		log.Printf("chat request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// Time tracking.

func (a *API) CheckInHandler(w http.ResponseWriter, r *http.Request) {
	event, err := a.timelog.CheckIn(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	a.tracker.SetStatus(requestUserID(r), models.StatusOnline)
	writeJSON(w, http.StatusOK, event)
}

type checkOutRequest struct {
	Note string `json:"note,omitempty"`
}

func (a *API) CheckOutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkOutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	event, err := a.timelog.CheckOut(requestUserID(r), req.Note)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

type startBreakRequest struct {
	BreakType string `json:"breakType,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (a *API) StartBreakHandler(w http.ResponseWriter, r *http.Request) {
	var req startBreakRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	event, err := a.timelog.StartBreak(requestUserID(r), req.BreakType, req.Note)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (a *API) EndBreakHandler(w http.ResponseWriter, r *http.Request) {
	event, err := a.timelog.EndBreak(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

type workStateResponse struct {
	State models.WorkState `json:"state"`
}

func (a *API) WorkStateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := a.timelog.StateOf(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read work state")
		return
	}
	writeJSON(w, http.StatusOK, workStateResponse{State: state})
}

func (a *API) TimeSummaryHandler(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
			return
		}
		day = parsed
	}
	summary, err := a.timelog.Summary(requestUserID(r), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Uploads.

type uploadResponse struct {
	FileID   string `json:"fileId"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

func (a *API) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.saveUpload(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		FileID:   meta.ID,
		URL:      "/api/images/" + meta.ID,
		MimeType: meta.MimeType,
	})
}

func (a *API) UploadAvatarHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.saveUpload(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.UpdateProfile(requestUserID(r), "", "/api/images/"+meta.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update avatar")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) saveUpload(r *http.Request, imageOnly bool) (storage.FileMetadata, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return storage.FileMetadata{}, errors.New("invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return storage.FileMetadata{}, errors.New("missing file field")
	}
	defer func() { _ = file.Close() }()

	if header.Size > maxUploadSize {
		return storage.FileMetadata{}, errors.New("file too large")
	}
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return storage.FileMetadata{}, errors.New("failed to read upload")
	}
	if len(data) > maxUploadSize {
		return storage.FileMetadata{}, errors.New("file too large")
	}

	// The content type is sniffed from the bytes, never trusted from the
	// request.
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return storage.FileMetadata{}, errors.New("unrecognized file type")
	}
	if imageOnly && !filetype.IsImage(data) {
		return storage.FileMetadata{}, errors.New("only image uploads are allowed")
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := a.files.Save(bytes.NewReader(data), hash); err != nil {
		return storage.FileMetadata{}, fmt.Errorf("failed to store file: %w", err)
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      int64(len(data)),
		CreatedAt: time.Now().Unix(),
		UserID:    requestUserID(r),
	}
	if err := a.storage.UpsertFileMetadata(meta); err != nil {
		return storage.FileMetadata{}, fmt.Errorf("failed to store file metadata: %w", err)
	}
	return meta, nil
}

func (a *API) GetImageHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.storage.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f, err := a.files.Get(meta.Hash)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream file %s: %v", meta.ID, err)
	}
}

// Web push.

type vapidKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func (a *API) VapidKeyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, vapidKeyResponse{PublicKey: a.vapidPublicKey})
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req pushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "Incomplete subscription")
		return
	}
	err := a.storage.UpsertPushSubscription(models.PushSubscription{
		UserID:   requestUserID(r),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store subscription")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func queryInt(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
