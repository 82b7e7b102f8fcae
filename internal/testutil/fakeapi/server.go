// Package fakeapi is an in-process stand-in for the task API used by tests.
package fakeapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Default administrator seeded on start.
const (
	AdminUsername = "admin"
	AdminPassword = "admin123"
)

// Failure makes matching requests answer with Status and Detail. Times
// limits how many requests fail; zero means every request.
type Failure struct {
	Status int
	Detail string
	Times  int
	Raw    string
}

type user struct {
	ID        int
	Username  string
	Email     string
	Hash      []byte
	IsAdmin   bool
	CreatedAt time.Time
}

type task struct {
	ID          int
	Title       string
	Description string
	ImagePath   string
	DueDate     *time.Time
	CreatedAt   time.Time
	CreatorID   int
}

type submission struct {
	ID          int
	TaskID      int
	StudentID   int
	Completed   bool
	CompletedAt *time.Time
	Notes       *string
}

// Server is a gin-backed fake of the task API with real JWTs and bcrypt
// password checks.
type Server struct {
	*httptest.Server

	secret []byte
	ttl    time.Duration

	mu          sync.Mutex
	users       map[string]*user
	tasks       []*task
	submissions []*submission
	nextUserID  int
	nextTaskID  int
	nextSubID   int
	calls       map[string]int
	failures    map[string]*Failure
	gates       map[string]map[int]chan struct{}
	revoked     map[string]bool
	lastHeaders map[string]http.Header
}

// New starts a fake API seeded with the default administrator.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		secret:      []byte("fake-api-secret"),
		ttl:         30 * time.Minute,
		users:       map[string]*user{},
		calls:       map[string]int{},
		failures:    map[string]*Failure{},
		gates:       map[string]map[int]chan struct{}{},
		revoked:     map[string]bool{},
		lastHeaders: map[string]http.Header{},
	}
	s.AddUser(AdminUsername, AdminPassword, true)

	r := gin.New()
	r.Use(s.intercept)
	r.POST("/login", s.login)
	r.POST("/register", s.register)
	r.POST("/logout", s.authenticated, s.logout)
	r.GET("/me", s.authenticated, s.me)
	r.GET("/my-tasks", s.authenticated, s.myTasks)
	r.GET("/tasks", s.authenticated, s.listTasks)
	r.POST("/tasks", s.authenticated, s.adminOnly, s.createTask)
	r.GET("/tasks/:id", s.authenticated, s.adminOnly, s.taskDetail)
	r.PUT("/tasks/:id/complete", s.authenticated, s.setCompletion(true))
	r.PUT("/tasks/:id/uncomplete", s.authenticated, s.setCompletion(false))
	r.GET("/statistics/overview", s.authenticated, s.adminOnly, s.overview)
	r.GET("/statistics/tasks", s.authenticated, s.taskStatistics)
	r.GET("/statistics/students", s.authenticated, s.studentStatistics)

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(username, password string, isAdmin bool) int {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	s.users[username] = &user{
		ID:        s.nextUserID,
		Username:  username,
		Email:     username + "@school.test",
		Hash:      hash,
		IsAdmin:   isAdmin,
		CreatedAt: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	return s.nextUserID
}

// AddTask creates a task assigned to every current student and returns its id.
func (s *Server) AddTask(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTaskLocked(title, "", "/uploads/"+strings.ReplaceAll(strings.ToLower(title), " ", "_")+".png", nil, 1)
}

func (s *Server) addTaskLocked(title, description, imagePath string, due *time.Time, creator int) int {
	s.nextTaskID++
	t := &task{
		ID:          s.nextTaskID,
		Title:       title,
		Description: description,
		ImagePath:   imagePath,
		DueDate:     due,
		CreatedAt:   time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC).Add(time.Duration(s.nextTaskID) * time.Hour),
		CreatorID:   creator,
	}
	s.tasks = append(s.tasks, t)
	for _, u := range s.sortedUsers() {
		if u.IsAdmin {
			continue
		}
		s.nextSubID++
		s.submissions = append(s.submissions, &submission{ID: s.nextSubID, TaskID: t.ID, StudentID: u.ID})
	}
	return t.ID
}

// Completed reports the server-side completion flag of a student's task.
func (s *Server) Completed(username string, taskID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[username]
	if u == nil {
		return false
	}
	if sub := s.findSubmission(taskID, u.ID); sub != nil {
		return sub.Completed
	}
	return false
}

// SetCompleted changes a submission behind the client's back.
func (s *Server) SetCompleted(username string, taskID int, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[username]
	if u == nil {
		return
	}
	if sub := s.findSubmission(taskID, u.ID); sub != nil {
		sub.Completed = done
		sub.CompletedAt = nil
		if done {
			now := time.Now().UTC()
			sub.CompletedAt = &now
		}
	}
}

// HasUser reports whether username is registered.
func (s *Server) HasUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// Fail installs a failure for a route such as "PUT /tasks/:id/complete".
func (s *Server) Fail(route string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &f
}

// Heal removes a failure.
func (s *Server) Heal(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// Gate blocks the nth (1-based) request to route until the returned channel
// is closed.
func (s *Server) Gate(route string, nth int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gates[route] == nil {
		s.gates[route] = map[int]chan struct{}{}
	}
	ch := make(chan struct{})
	s.gates[route][nth] = ch
	return ch
}

// Revoke makes the server reject token with 401.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// Calls returns how many requests reached route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls returns the number of requests served.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// LastHeaders returns the headers of the latest request to route.
func (s *Server) LastHeaders(route string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeaders[route].Clone()
}

// IssueToken signs a token for username with the given lifetime.
func (s *Server) IssueToken(username string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

func (s *Server) intercept(c *gin.Context) {
	route := c.Request.Method + " " + c.FullPath()

	s.mu.Lock()
	s.calls[route]++
	n := s.calls[route]
	s.lastHeaders[route] = c.Request.Header.Clone()
	gate := s.gates[route][n]
	failure := s.failures[route]
	if failure != nil && failure.Times > 0 {
		failure.Times--
		if failure.Times == 0 {
			delete(s.failures, route)
		}
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}

	if failure != nil {
		if failure.Raw != "" {
			c.Data(failure.Status, "application/json", []byte(failure.Raw))
		} else {
			c.JSON(failure.Status, gin.H{"detail": failure.Detail})
		}
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) authenticated(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Not authenticated"})
		return
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})

	s.mu.Lock()
	revoked := s.revoked[raw]
	u := s.users[claims.Subject]
	s.mu.Unlock()

	if err != nil || !token.Valid || revoked || u == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
		return
	}
	c.Set("user", u)
	c.Set("token", raw)
	c.Next()
}

func (s *Server) adminOnly(c *gin.Context) {
	if !current(c).IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Not enough permissions"})
		return
	}
	c.Next()
}

func current(c *gin.Context) *user {
	u, _ := c.MustGet("user").(*user)
	return u
}

func (s *Server) login(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	s.mu.Lock()
	u := s.users[username]
	s.mu.Unlock()

	if u == nil || bcrypt.CompareHashAndPassword(u.Hash, []byte(password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": s.IssueToken(username, s.ttl), "token_type": "bearer"})
}

func (s *Server) register(c *gin.Context) {
	email := c.PostForm("email")
	username := c.PostForm("username")
	password := c.PostForm("password")
	isAdmin, _ := strconv.ParseBool(c.DefaultPostForm("is_admin", "false"))

	if email == "" || username == "" || password == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"loc": []string{"body", "username"}, "msg": "field required"}}})
		return
	}

	s.mu.Lock()
	for _, u := range s.users {
		if u.Username == username || u.Email == email {
			s.mu.Unlock()
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Username or email already registered"})
			return
		}
	}
	s.mu.Unlock()

	id := s.AddUser(username, password, isAdmin)

	s.mu.Lock()
	u := s.users[username]
	u.Email = email
	if !isAdmin {
		for _, t := range s.tasks {
			s.nextSubID++
			s.submissions = append(s.submissions, &submission{ID: s.nextSubID, TaskID: t.ID, StudentID: id})
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, profileJSON(u))
}

func (s *Server) logout(c *gin.Context) {
	s.Revoke(c.GetString("token"))
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, profileJSON(current(c)))
}

func (s *Server) myTasks(c *gin.Context) {
	u := current(c)
	if u.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Admins don't have assigned tasks"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []gin.H{}
	for _, sub := range s.submissions {
		if sub.StudentID != u.ID {
			continue
		}
		t := s.findTask(sub.TaskID)
		out = append(out, gin.H{
			"submission_id": sub.ID,
			"task":          taskJSON(t),
			"completed":     sub.Completed,
			"completed_at":  naive(sub.CompletedAt),
			"notes":         sub.Notes,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listTasks(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gin.H, 0, len(s.tasks))
	for i := len(s.tasks) - 1; i >= 0; i-- {
		out = append(out, taskJSON(s.tasks[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createTask(c *gin.Context) {
	title := c.PostForm("title")
	description := c.PostForm("description")
	file, err := c.FormFile("image")
	if title == "" || description == "" || err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "field required"}}})
		return
	}
	switch file.Header.Get("Content-Type") {
	case "image/jpeg", "image/png", "image/jpg":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Only JPEG and PNG images are allowed"})
		return
	}
	var due *time.Time
	if raw := c.PostForm("due_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02T15:04:05", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid date format"})
			return
		}
		due = &parsed
	}
	ext := "jpg"
	if idx := strings.LastIndex(file.Filename, "."); idx >= 0 {
		ext = file.Filename[idx+1:]
	}

	s.mu.Lock()
	id := s.addTaskLocked(title, description, fmt.Sprintf("/uploads/task_%d.%s", s.nextTaskID+1, ext), due, current(c).ID)
	t := s.findTask(id)
	s.mu.Unlock()

	c.JSON(http.StatusOK, taskJSON(t))
}

func (s *Server) taskDetail(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTask(id)
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Task not found"})
		return
	}
	subs := []gin.H{}
	completed := 0
	for _, sub := range s.submissions {
		if sub.TaskID != id {
			continue
		}
		if sub.Completed {
			completed++
		}
		subs = append(subs, gin.H{
			"id":           sub.ID,
			"task_id":      sub.TaskID,
			"student":      profileJSON(s.userByID(sub.StudentID)),
			"completed":    sub.Completed,
			"completed_at": naive(sub.CompletedAt),
			"notes":        sub.Notes,
		})
	}
	body := taskJSON(t)
	body["total_students"] = len(subs)
	body["completed_count"] = completed
	body["pending_count"] = len(subs) - completed
	body["completion_rate"] = rate(completed, len(subs))
	body["submissions"] = subs
	c.JSON(http.StatusOK, body)
}

func (s *Server) setCompletion(done bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := current(c)
		if u.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"detail": "Admins cannot complete tasks"})
			return
		}
		id, _ := strconv.Atoi(c.Param("id"))
		notes := c.PostForm("notes")

		s.mu.Lock()
		defer s.mu.Unlock()
		sub := s.findSubmission(id, u.ID)
		if sub == nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Task assignment not found"})
			return
		}
		sub.Completed = done
		sub.CompletedAt = nil
		if done {
			now := time.Now().UTC()
			sub.CompletedAt = &now
			if notes != "" {
				sub.Notes = &notes
			}
			c.JSON(http.StatusOK, gin.H{"message": "Task marked as completed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Task marked as incomplete"})
	}
}

func (s *Server) overview(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	students := 0
	for _, u := range s.users {
		if !u.IsAdmin {
			students++
		}
	}
	completed := 0
	for _, sub := range s.submissions {
		if sub.Completed {
			completed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"total_tasks":             len(s.tasks),
		"total_students":          students,
		"total_submissions":       len(s.submissions),
		"completed_submissions":   completed,
		"pending_submissions":     len(s.submissions) - completed,
		"overall_completion_rate": rate(completed, len(s.submissions)),
	})
}

func (s *Server) taskStatistics(c *gin.Context) {
	if !current(c).IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Not enough permissions"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []gin.H{}
	for _, t := range s.tasks {
		total, completed := 0, 0
		for _, sub := range s.submissions {
			if sub.TaskID == t.ID {
				total++
				if sub.Completed {
					completed++
				}
			}
		}
		out = append(out, gin.H{
			"task_id":           t.ID,
			"task_title":        t.Title,
			"total_assignments": total,
			"completed":         completed,
			"pending":           total - completed,
			"completion_rate":   rate(completed, total),
			"created_at":        naive(&t.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) studentStatistics(c *gin.Context) {
	if !current(c).IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Not enough permissions"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []gin.H{}
	for _, u := range s.sortedUsers() {
		if u.IsAdmin {
			continue
		}
		total, completed := 0, 0
		for _, sub := range s.submissions {
			if sub.StudentID == u.ID {
				total++
				if sub.Completed {
					completed++
				}
			}
		}
		out = append(out, gin.H{
			"student_id":      u.ID,
			"student_name":    u.Username,
			"student_email":   u.Email,
			"total_tasks":     total,
			"completed_tasks": completed,
			"pending_tasks":   total - completed,
			"completion_rate": rate(completed, total),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) findTask(id int) *task {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Server) findSubmission(taskID, studentID int) *submission {
	for _, sub := range s.submissions {
		if sub.TaskID == taskID && sub.StudentID == studentID {
			return sub
		}
	}
	return nil
}

func (s *Server) userByID(id int) *user {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (s *Server) sortedUsers() []*user {
	out := make([]*user, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func profileJSON(u *user) gin.H {
	if u == nil {
		return gin.H{}
	}
	return gin.H{
		"id":         u.ID,
		"username":   u.Username,
		"email":      u.Email,
		"is_admin":   u.IsAdmin,
		"created_at": naive(&u.CreatedAt),
	}
}

func taskJSON(t *task) gin.H {
	if t == nil {
		return gin.H{}
	}
	var image interface{}
	if t.ImagePath != "" {
		image = t.ImagePath
	}
	return gin.H{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"image_path":  image,
		"due_date":    naive(t.DueDate),
		"created_at":  naive(&t.CreatedAt),
	}
}

// naive renders datetimes without a zone, as the task API does.
func naive(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

func rate(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(int(float64(completed)/float64(total)*10000+0.5)) / 100
}
