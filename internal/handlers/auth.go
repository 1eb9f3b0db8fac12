package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/1sub-io/vendor-api/internal/config"
	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/pkg/database"
)

type AuthHandler struct {
	db  *database.DB
	cfg *config.Config
}

func NewAuthHandler(db *database.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string             `json:"token"`
	User  models.UserProfile `json:"user"`
}

func (h *AuthHandler) issueSessionToken(user *models.UserProfile) (string, error) {
	claims := jwt.MapClaims{
		"user_id":   user.ID.String(),
		"email":     user.Email,
		"is_vendor": user.IsVendor,
		"exp":       time.Now().Add(h.cfg.SessionTTL).Unix(),
		"iat":       time.Now().Unix(),
		"iss":       "1sub-vendor-api",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret()))
}

// Register creates a vendor account
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	user := models.UserProfile{
		Email:       req.Email,
		DisplayName: req.Name,
		IsVendor:    true,
	}

	err = h.db.Pool.QueryRow(ctx, `
		INSERT INTO user_profiles (email, display_name, password_hash, is_vendor)
		VALUES ($1, $2, $3, true)
		RETURNING id, credits_balance, created_at
	`, user.Email, user.DisplayName, string(hash)).Scan(&user.ID, &user.CreditsBalance, &user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			http.Error(w, "Email already registered", http.StatusConflict)
			return
		}
		log.Error().Err(err).Msg("Failed to create user")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	tokenString, err := h.issueSessionToken(&user)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(LoginResponse{Token: tokenString, User: user})
}

// Login validates credentials and returns a session JWT
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var user models.UserProfile
	var passwordHash string
	err := h.db.Pool.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, is_vendor, credits_balance, created_at, discord_id, discord_username, discord_avatar
		FROM user_profiles WHERE email = $1
	`, req.Email).Scan(&user.ID, &user.Email, &user.DisplayName, &passwordHash, &user.IsVendor,
		&user.CreditsBalance, &user.CreatedAt, &user.DiscordID, &user.DiscordUsername, &user.DiscordAvatar)
	if err != nil {
		// Same response as a wrong password so emails can't be enumerated
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	_, _ = h.db.Pool.Exec(ctx, "UPDATE user_profiles SET last_login_at = $1 WHERE id = $2", now, user.ID)
	user.LastLoginAt = &now

	tokenString, err := h.issueSessionToken(&user)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: tokenString, User: user})
}

// GetMe returns current user info
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	var user models.UserProfile
	err := h.db.Pool.QueryRow(ctx, `
		SELECT id, email, display_name, is_vendor, credits_balance, created_at, last_login_at, discord_id, discord_username, discord_avatar
		FROM user_profiles WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.IsVendor, &user.CreditsBalance,
		&user.CreatedAt, &user.LastLoginAt, &user.DiscordID, &user.DiscordUsername, &user.DiscordAvatar)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (h *AuthHandler) getDiscordOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		RedirectURL:  h.cfg.BaseURL + "/api/v1/auth/discord/callback",
		ClientID:     h.cfg.DiscordClientID,
		ClientSecret: h.cfg.DiscordClientSecret,
		Scopes:       []string{"identify"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://discord.com/api/oauth2/authorize",
			TokenURL: "https://discord.com/api/oauth2/token",
		},
	}
}

// DiscordOAuthLogin initiates the Discord OAuth flow to link a Discord
// account for notifications
// GET /api/v1/auth/discord/login
func (h *AuthHandler) DiscordOAuthLogin(w http.ResponseWriter, r *http.Request) {
	oauthConfig := h.getDiscordOAuthConfig()

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token query parameter is required", http.StatusBadRequest)
		return
	}

	// Carry the session token through state so the callback can attach the
	// Discord account to the right vendor
	state := fmt.Sprintf("link|%s", token)

	url := oauthConfig.AuthCodeURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// DiscordOAuthCallback handles the Discord OAuth callback and links the
// Discord identity to the authenticated vendor
// GET /api/v1/auth/discord/callback
func (h *AuthHandler) DiscordOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.FormValue("state")

	parts := strings.SplitN(state, "|", 2)
	if len(parts) != 2 || parts[0] != "link" {
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	claims, err := parseSessionToken(parts[1])
	if err != nil {
		http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "Unauthorized: Invalid token subject", http.StatusUnauthorized)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	oauthConfig := h.getDiscordOAuthConfig()
	ctx := r.Context()
	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		http.Error(w, "Failed to exchange token: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Fetch user details from Discord
	client := oauthConfig.Client(ctx, token)
	resp, err := client.Get("https://discord.com/api/users/@me")
	if err != nil {
		http.Error(w, "Failed to fetch user info", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	var discordUser struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discordUser); err != nil {
		http.Error(w, "Failed to decode user info", http.StatusInternalServerError)
		return
	}

	// Unlink this discord account from any other vendor to prevent unique
	// constraint violations
	_, _ = h.db.Pool.Exec(ctx, `
		UPDATE user_profiles
		SET discord_id = NULL, discord_username = NULL, discord_avatar = NULL
		WHERE discord_id = $1 AND id <> $2
	`, discordUser.ID, userID)

	_, err = h.db.Pool.Exec(ctx, `
		UPDATE user_profiles
		SET discord_id = $1, discord_username = $2, discord_avatar = $3
		WHERE id = $4
	`, discordUser.ID, discordUser.Username, discordUser.Avatar, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to link discord account")
		http.Error(w, "Failed to link discord account", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%s/dashboard/settings?discord=linked", h.cfg.FrontendURL), http.StatusFound)
}

// UnlinkDiscord removes the linked Discord identity
// DELETE /api/v1/auth/discord
func (h *AuthHandler) UnlinkDiscord(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	_, err := h.db.Pool.Exec(r.Context(), `
		UPDATE user_profiles
		SET discord_id = NULL, discord_username = NULL, discord_avatar = NULL
		WHERE id = $1
	`, userID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
