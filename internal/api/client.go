package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"

	"convo/internal/apperr"
)

// Session is the credential bundle returned by login and register.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
}

type RegisterRequest struct {
	Name      string `json:"name"`
	RealName  string `json:"real_name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Password  string `json:"password"`
}

type GroupLog struct {
	Action    string `json:"action"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
}

type GroupInfo struct {
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// Client talks to the HTTP side of the server with a bearer token.
// On a 401 it refreshes the access token (at most one refresh in
// flight, concurrent callers wait for it) and replays the request
// once. A failed refresh ends the session for good: the expired
// handler fires and every later call fails fast.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	userID       string
	name         string
	flight       *refreshFlight
	expired      bool

	expireOnce sync.Once
	onExpired  func()
}

type refreshFlight struct {
	done chan struct{}
	err  error
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile),
	}
}

// OnSessionExpired installs the handler run once when a token refresh
// fails.
func (c *Client) OnSessionExpired(fn func()) {
	c.mu.Lock()
	c.onExpired = fn
	c.mu.Unlock()
}

func (c *Client) SetSession(s Session) {
	c.mu.Lock()
	c.accessToken = s.AccessToken
	c.refreshToken = s.RefreshToken
	c.userID = s.UserID
	c.name = s.Name
	c.expired = false
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Identity parses the current access token without verifying the
// signature and returns the subject and expiry claims.
func (c *Client) Identity() (string, time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(c.AccessToken(), claims); err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.CodeUnauthenticated, "parse access token", err)
	}
	sub, _ := claims["sub"].(string)
	exp, _ := claims["exp"].(float64)
	return sub, time.Unix(int64(exp), 0), nil
}

// Login exchanges credentials for a session and stores it.
func (c *Client) Login(name, password string) (Session, error) {
	return c.authenticate("/api/auth/login", map[string]string{
		"name":     name,
		"password": password,
	})
}

// Register creates an account and stores the returned session.
func (c *Client) Register(req RegisterRequest) (Session, error) {
	return c.authenticate("/api/auth/register", req)
}

func (c *Client) authenticate(path string, payload interface{}) (Session, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, "encode request", err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return Session{}, apperr.Transient("auth request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return Session{}, apperr.Unauthenticated("invalid credentials")
	}
	if resp.StatusCode >= 400 {
		return Session{}, statusError(resp)
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, "decode session", err)
	}
	c.SetSession(s)
	return s, nil
}

// refreshAccess obtains a new access token. The token that triggered
// the refresh is passed so callers racing a completed refresh do not
// refresh again.
func (c *Client) refreshAccess(failed string) error {
	c.mu.Lock()
	if c.expired {
		c.mu.Unlock()
		return apperr.Unauthenticated("session expired")
	}
	if c.accessToken != failed {
		c.mu.Unlock()
		return nil
	}
	if f := c.flight; f != nil {
		c.mu.Unlock()
		<-f.done
		return f.err
	}
	f := &refreshFlight{done: make(chan struct{})}
	c.flight = f
	refreshToken := c.refreshToken
	c.mu.Unlock()

	f.err = c.doRefresh(refreshToken)

	c.mu.Lock()
	c.flight = nil
	if f.err != nil {
		c.expired = true
	}
	onExpired := c.onExpired
	c.mu.Unlock()
	close(f.done)

	if f.err != nil {
		c.logger.Printf("token refresh failed: %v", f.err)
		if onExpired != nil {
			c.expireOnce.Do(onExpired)
		}
	}
	return f.err
}

func (c *Client) doRefresh(refreshToken string) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/auth/refresh", nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "build refresh request", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Transient("refresh request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.Unauthenticated("refresh rejected")
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "decode refresh response", err)
	}
	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.mu.Unlock()
	return nil
}

// do sends an authenticated request, refreshing and replaying once on
// a 401. The body is kept as bytes so the replay can rebuild it.
func (c *Client) do(method, path, contentType string, body []byte) (*http.Response, error) {
	c.mu.Lock()
	expired := c.expired
	c.mu.Unlock()
	if expired {
		return nil, apperr.Unauthenticated("session expired")
	}

	send := func() (*http.Response, error) {
		req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "build request", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.AccessToken())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return c.http.Do(req)
	}

	used := c.AccessToken()
	resp, err := send()
	if err != nil {
		return nil, apperr.Transient(method+" "+path, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if err := c.refreshAccess(used); err != nil {
		return nil, err
	}
	resp, err = send()
	if err != nil {
		return nil, apperr.Transient(method+" "+path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, apperr.Unauthenticated("request rejected after refresh")
	}
	return resp, nil
}

// postJSON posts a JSON body and decodes the response into out when
// out is non-nil.
func (c *Client) postJSON(path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "encode request", err)
	}
	resp, err := c.do(http.MethodPost, path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "decode response", err)
	}
	return nil
}

// SetBlocked blocks or unblocks the target user.
func (c *Client) SetBlocked(targetID string, blocked bool) error {
	action := "unblock"
	if blocked {
		action = "block"
	}
	return c.postJSON("/api/user/block", map[string]string{
		"target_id": targetID,
		"action":    action,
	}, nil)
}

// UpdateProfile submits the editable profile fields as a form post.
func (c *Client) UpdateProfile(bio, realName, birthDate, gender string) error {
	form := url.Values{}
	form.Set("bio", bio)
	form.Set("real_name", realName)
	form.Set("birth_date", birthDate)
	form.Set("gender", gender)
	resp, err := c.do(http.MethodPost, "/api/user/profile", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	return nil
}

type avatarResponse struct {
	Avatar  string   `json:"avatar"`
	Gallery []string `json:"gallery"`
}

// UploadAvatar adds a base64 image to the gallery and makes it
// current; the updated gallery comes back.
func (c *Client) UploadAvatar(image string) (string, []string, error) {
	var out avatarResponse
	if err := c.postJSON("/api/user/avatar/upload", map[string]string{"image": image}, &out); err != nil {
		return "", nil, err
	}
	return out.Avatar, out.Gallery, nil
}

// DeleteAvatar removes an image from the gallery; the server picks
// the replacement current avatar.
func (c *Client) DeleteAvatar(avatar string) (string, []string, error) {
	var out avatarResponse
	if err := c.postJSON("/api/user/avatar/delete", map[string]string{"avatar": avatar}, &out); err != nil {
		return "", nil, err
	}
	return out.Avatar, out.Gallery, nil
}

func (c *Client) SelectAvatar(avatar string) error {
	return c.postJSON("/api/user/avatar/select", map[string]string{"avatar": avatar}, nil)
}

// GroupLogs fetches the action log of a group the caller owns.
func (c *Client) GroupLogs(roomID string) ([]GroupLog, GroupInfo, error) {
	var out struct {
		Logs []GroupLog `json:"logs"`
		Info GroupInfo  `json:"info"`
	}
	if err := c.postJSON("/api/group/logs", map[string]string{"room_id": roomID}, &out); err != nil {
		return nil, GroupInfo{}, err
	}
	return out.Logs, out.Info, nil
}

// UpdateGroup changes the group's name and/or avatar; empty fields
// are left alone.
func (c *Client) UpdateGroup(roomID, name, image string) error {
	return c.postJSON("/api/group/update", map[string]string{
		"room_id": roomID,
		"name":    name,
		"image":   image,
	}, nil)
}

// DeleteChat removes a chat. mutual deletes it for every participant;
// otherwise it only disappears for the caller.
func (c *Client) DeleteChat(roomID string, mutual bool) error {
	return c.postJSON("/api/chat/delete", map[string]interface{}{
		"room_id": roomID,
		"mutual":  mutual,
	}, nil)
}

// ManageParticipant runs an add, remove, or leave action on a group.
func (c *Client) ManageParticipant(roomID, action, targetID string) error {
	return c.postJSON("/api/group/participants", map[string]string{
		"room_id":   roomID,
		"action":    action,
		"target_id": targetID,
	}, nil)
}

// UploadFile sends a file to a room as a multipart post. The server
// turns it into a message that arrives back over the event bus; no
// message state is created here.
func (c *Client) UploadFile(roomID, filename string, data []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "build upload", err)
	}
	if _, err := part.Write(data); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "build upload", err)
	}
	if err := w.WriteField("room_id", roomID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "build upload", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "build upload", err)
		}
	}
	if err := w.Close(); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "build upload", err)
	}

	resp, err := c.do(http.MethodPost, "/api/upload", w.FormDataContentType(), buf.Bytes())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	return nil
}

// statusError maps an HTTP failure to the error taxonomy, carrying
// the server's error text when present.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = fmt.Sprintf("server returned %d", resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.Unauthenticated(msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(msg)
	case resp.StatusCode >= 500:
		return apperr.Transient(msg, nil)
	default:
		return apperr.Rejected(msg)
	}
}
