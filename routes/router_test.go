package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/minblog/config"
	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/repository/gormstore"
	"github.com/cppla/minblog/utils"
)

const apiToken = "test-api-token"

type errorBody struct {
	Error utils.ErrorBody `json:"error"`
}

func testConfig() config.AppConfig {
	return config.AppConfig{
		GinMode:            "test",
		RateLimitPerMinute: 1000,
		AllowedOrigins:     []string{"*"},
		MetricsEnabled:     true,
		AdminUser:          "admin",
		AdminPass:          "s3cret",
		JWTSecret:          "test-jwt-secret",
		APIToken:           apiToken,
		TokenTTLHours:      1,
	}
}

// steppingClock returns a clock that moves forward a minute on every call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	config.Set(testConfig())
	utils.SetRedis(nil)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := gormstore.New(db)
	require.NoError(t, store.Migrate())

	clock := steppingClock()
	posts := repository.NewPostRepository(store, repository.WithClock(clock))
	comments := repository.NewCommentRepository(store, clock)
	t.Cleanup(posts.Wait)

	return SetupRouter(posts, comments)
}

func do(r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createPost(t *testing.T, r http.Handler, body string) models.Post {
	t.Helper()
	w := do(r, http.MethodPost, "/posts", body, apiToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Post](t, w)
}

func TestCreatePostWithCommaSeparatedTags(t *testing.T) {
	r := newTestRouter(t)

	created := createPost(t, r, `{"title":"Hello","content":"Body text","tags":"a, b ,c","is_pinned":true}`)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"a", "b", "c"}, []string(created.Tags))
	assert.Equal(t, "Uncategorized", created.Category)
	assert.Equal(t, models.ImageFitContain, created.ImageFit)
	assert.False(t, created.IsPinned)
	assert.Equal(t, "Body text...", created.Excerpt)

	w := do(r, http.MethodGet, "/posts", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]models.Post](t, w)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
	assert.Equal(t, []string{"a", "b", "c"}, []string(listed[0].Tags))
	assert.Empty(t, listed[0].Content)

	w = do(r, http.MethodGet, "/posts/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Body text", decode[models.Post](t, w).Content)
}

func TestWritesRequireToken(t *testing.T) {
	r := newTestRouter(t)

	cases := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/posts", `{"title":"x"}`},
		{http.MethodPut, "/posts/abc", `{"title":"x"}`},
		{http.MethodDelete, "/posts/abc", ""},
		{http.MethodPut, "/posts/abc/pin", `{"pinned":true}`},
		{http.MethodPut, "/posts/abc/publish", ""},
		{http.MethodPost, "/posts/abc/unknown", ""},
		{http.MethodPost, "/logout", ""},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := do(r, tc.method, tc.path, tc.body, "")
			require.Equal(t, http.StatusUnauthorized, w.Code)
			body := decode[errorBody](t, w)
			assert.Equal(t, utils.KindUnauthorized, body.Error.Kind)
			assert.Equal(t, "Unauthorized", body.Error.Message)

			w = do(r, tc.method, tc.path, tc.body, "wrong-token")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestLikeIsPublic(t *testing.T) {
	r := newTestRouter(t)
	post := createPost(t, r, `{"title":"Likeable"}`)

	for want := 1; want <= 2; want++ {
		w := do(r, http.MethodPost, "/posts/"+post.ID+"/like", "", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode[struct {
			Success bool  `json:"success"`
			Likes   int64 `json:"likes"`
		}](t, w)
		assert.True(t, body.Success)
		assert.EqualValues(t, want, body.Likes)
	}

	w := do(r, http.MethodPost, "/posts/missing/like", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, utils.KindNotFound, decode[errorBody](t, w).Error.Kind)
}

func TestLoginLogout(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/login", `{"username":"admin","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/login", `{"username":"admin"}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "password is required", decode[errorBody](t, w).Error.Message)

	w = do(r, http.MethodPost, "/login", `{"username":"admin","password":"s3cret"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}](t, w)
	require.True(t, login.Success)
	require.NotEmpty(t, login.Token)

	w = do(r, http.MethodPost, "/posts", `{"title":"via jwt"}`, login.Token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/logout", "", login.Token)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/posts", `{"title":"after logout"}`, login.Token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the static token keeps working after a logout
	w = do(r, http.MethodPost, "/logout", "", apiToken)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/posts", `{"title":"static"}`, apiToken)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestDraftsHiddenUntilPublished(t *testing.T) {
	r := newTestRouter(t)
	draft := createPost(t, r, `{"title":"Secret","is_draft":true,"tags":["go"]}`)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/posts/"+draft.ID, "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/posts/"+draft.ID+"/rendered", "", "").Code)
	assert.Empty(t, decode[[]models.Post](t, do(r, http.MethodGet, "/posts", "", "")))
	assert.Empty(t, decode[[]string](t, do(r, http.MethodGet, "/tags", "", "")))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/posts/"+draft.ID, "", apiToken).Code)
	assert.Len(t, decode[[]models.Post](t, do(r, http.MethodGet, "/posts", "", apiToken)), 1)

	w := do(r, http.MethodPut, "/posts/"+draft.ID+"/publish", "", apiToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Post](t, w).IsDraft)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/posts/"+draft.ID, "", "").Code)
	assert.Equal(t, []string{"go"}, decode[[]string](t, do(r, http.MethodGet, "/tags", "", "")))
}

func TestUpdatePinAndDelete(t *testing.T) {
	r := newTestRouter(t)
	first := createPost(t, r, `{"title":"First"}`)
	second := createPost(t, r, `{"title":"Second"}`)

	listed := decode[[]models.Post](t, do(r, http.MethodGet, "/posts", "", ""))
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)

	w := do(r, http.MethodPut, "/posts/"+first.ID+"/pin", `{}`, apiToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "pinned is required", decode[errorBody](t, w).Error.Message)

	w = do(r, http.MethodPut, "/posts/"+first.ID+"/pin", `{"pinned":true}`, apiToken)
	require.Equal(t, http.StatusOK, w.Code)
	pinned := decode[models.Post](t, w)
	assert.True(t, pinned.IsPinned)
	assert.NotNil(t, pinned.PinnedAt)

	listed = decode[[]models.Post](t, do(r, http.MethodGet, "/posts", "", ""))
	assert.Equal(t, first.ID, listed[0].ID)

	w = do(r, http.MethodPut, "/posts/"+second.ID, `{"content":"new body","category":"dev"}`, apiToken)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[models.Post](t, w)
	assert.Equal(t, "Second", updated.Title)
	assert.Equal(t, "dev", updated.Category)
	assert.Equal(t, "new body...", updated.Excerpt)

	w = do(r, http.MethodPut, "/posts/"+second.ID, `{"image_fit":"stretch"}`, apiToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/posts/missing", `{"title":"x"}`, apiToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	for i := 0; i < 2; i++ {
		w = do(r, http.MethodDelete, "/posts/"+second.ID, "", apiToken)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true}`, w.Body.String())
	}
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/posts/"+second.ID, "", "").Code)
}

func TestCreateValidation(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/posts", `{"content":"no title"}`, apiToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, utils.KindValidation, body.Error.Kind)
	assert.Equal(t, "title is required", body.Error.Message)

	w = do(r, http.MethodPost, "/posts", `{"title":`, apiToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/posts", `{"title":"x","is_draft":"yes"}`, apiToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "is_draft has the wrong type", decode[errorBody](t, w).Error.Message)
}

func TestCommentTree(t *testing.T) {
	r := newTestRouter(t)
	post := createPost(t, r, `{"title":"Discuss"}`)

	w := do(r, http.MethodPost, "/comments",
		`{"post_id":"`+post.ID+`","author_name":"<b>Ann</b>","author_email":"ann@example.com","content":"first <script>x</script>"}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	root := decode[models.Comment](t, w)
	assert.Equal(t, "Ann", root.AuthorName)
	assert.NotContains(t, root.Content, "<script>")

	w = do(r, http.MethodPost, "/comments",
		`{"post_id":"`+post.ID+`","parent_id":"`+root.ID+`","author_name":"Bob","author_email":"bob@example.com","content":"reply"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/comments",
		`{"post_id":"`+post.ID+`","parent_id":"gone","author_name":"Cy","author_email":"cy@example.com","content":"orphan"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/comments", `{"post_id":"`+post.ID+`","author_name":"Dee","content":"x"}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "author_email is required", decode[errorBody](t, w).Error.Message)

	w = do(r, http.MethodGet, "/posts/"+post.ID+"/comments", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	tree := decode[[]models.CommentNode](t, w)
	require.Len(t, tree, 2)
	assert.Equal(t, root.ID, tree[0].ID)
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, "reply", tree[0].Replies[0].Content)
	assert.Equal(t, "orphan", tree[1].Content)
	assert.Empty(t, tree[1].Replies)

	w = do(r, http.MethodGet, "/posts/nobody/comments", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRenderedRelatedAndSearch(t *testing.T) {
	r := newTestRouter(t)
	hello := createPost(t, r, `{"title":"Hello Go","content":"# Hello World\n\nSome <b>text</b>","tags":["go","web"]}`)
	related := createPost(t, r, `{"title":"Other","content":"misc","tags":["web"]}`)
	createPost(t, r, `{"title":"Unrelated","content":"misc","tags":["rust"]}`)

	w := do(r, http.MethodGet, "/posts/"+hello.ID+"/rendered", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	rendered := decode[struct {
		ID   string          `json:"id"`
		HTML string          `json:"html"`
		TOC  []utils.Heading `json:"toc"`
	}](t, w)
	assert.Equal(t, hello.ID, rendered.ID)
	assert.Contains(t, rendered.HTML, `<h1 id="hello-world">`)
	assert.Equal(t, []utils.Heading{{Level: 1, Text: "Hello World", ID: "hello-world"}}, rendered.TOC)

	w = do(r, http.MethodGet, "/posts/"+hello.ID+"/related", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	rel := decode[[]models.Post](t, w)
	require.Len(t, rel, 1)
	assert.Equal(t, related.ID, rel[0].ID)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/posts/missing/related", "", "").Code)

	hits := decode[[]models.Post](t, do(r, http.MethodGet, "/posts/search?q=HELLO", "", ""))
	require.Len(t, hits, 1)
	assert.Equal(t, hello.ID, hits[0].ID)
	assert.JSONEq(t, `[]`, do(r, http.MethodGet, "/posts/search?q=", "", "").Body.String())

	byTag := decode[[]models.Post](t, do(r, http.MethodGet, "/tags/web/posts", "", ""))
	assert.Len(t, byTag, 2)
	byCat := decode[[]models.Post](t, do(r, http.MethodGet, "/categories/Uncategorized/posts", "", ""))
	assert.Len(t, byCat, 3)
}

func TestPopularAndStats(t *testing.T) {
	r := newTestRouter(t)
	quiet := createPost(t, r, `{"title":"Quiet"}`)
	busy := createPost(t, r, `{"title":"Busy","category":"dev"}`)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/posts/"+busy.ID+"/like", "", "").Code)
	}
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/posts/"+busy.ID, "", "").Code)
	}
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/posts/"+quiet.ID, "", "").Code)

	assert.Eventually(t, func() bool {
		stats := decode[models.BlogStats](t, do(r, http.MethodGet, "/stats", "", ""))
		return stats.TotalViews == 3
	}, 2*time.Second, 10*time.Millisecond)

	stats := decode[models.BlogStats](t, do(r, http.MethodGet, "/stats", "", ""))
	assert.Equal(t, models.BlogStats{PostCount: 2, CommentCount: 0, TotalViews: 3, TotalLikes: 3}, stats)

	popular := decode[[]models.Post](t, do(r, http.MethodGet, "/posts/popular?limit=1", "", ""))
	require.Len(t, popular, 1)
	assert.Equal(t, busy.ID, popular[0].ID)

	assert.Equal(t, []string{"Uncategorized", "dev"}, decode[[]string](t, do(r, http.MethodGet, "/categories", "", "")))
}

func TestCORSAndFallbacks(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodOptions, "/posts/anything", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	w = do(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodGet, "/nowhere", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, utils.KindNotFound, decode[errorBody](t, w).Error.Kind)

	w = do(r, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "minblog_http_requests_total")
}
