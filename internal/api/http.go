package api

import (
	"encoding/base64"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/purchase"
	"github.com/victornm/novatest/internal/quiz"
	"github.com/victornm/novatest/internal/report"
	"github.com/victornm/novatest/internal/session"
	"github.com/victornm/novatest/internal/testrun"
)

const (
	maxImageSize = 10 << 20
	// maxScanBody fits a base64 encoded image plus the JSON or multipart envelope.
	maxScanBody  = maxImageSize*4/3 + 64<<10
)

func (a *API) registerHTTP(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/visitors", a.createVisitor)

	auth := v1.Group("", a.authenticate)

	auth.GET("/session", a.getSession)
	auth.POST("/session/login", a.login)
	auth.POST("/session/logout", a.logout)
	auth.PUT("/session/lang", a.setLang)

	auth.GET("/tests", a.listTests)
	auth.POST("/tests/:test_id/start", a.startTest)

	auth.GET("/run", a.getRun)
	auth.POST("/run/select", a.selectOption)
	auth.POST("/run/advance", a.advance)
	auth.POST("/run/retreat", a.retreat)
	auth.DELETE("/run", a.abandon)

	auth.GET("/results/:test_id/:score", a.getResult)

	auth.GET("/packages", a.listPackages)
	auth.POST("/packages/:package_id/purchase", a.purchasePackage)
	auth.POST("/agent/grants", a.grant)

	auth.POST("/food/scan", a.scanFood)
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body"),
			errors.WithCause(err),
		))
		return false
	}
	return true
}

type (
	createVisitorRequest struct {
		Lang string `json:"lang"`
	}

	visitorView struct {
		VisitorID string          `json:"visitor_id"`
		Token     string          `json:"token"`
		Lang      domain.Language `json:"lang"`
	}

	sessionView struct {
		VisitorID      string          `json:"visitor_id"`
		User           *domain.User    `json:"user"`
		Lang           domain.Language `json:"lang"`
		Currency       domain.Currency `json:"currency"`
		CompletedTests []string        `json:"completed_tests"`
	}
)

func (a *API) createVisitor(c *gin.Context) {
	var req createVisitorRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	lang := matchLanguage(c.GetHeader("Accept-Language"))
	if req.Lang != "" {
		l, ok := domain.ParseLanguage(req.Lang)
		if !ok {
			writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unsupported language: %q", req.Lang)))
			return
		}
		lang = l
	}

	s, err := a.sessions.NewVisitor(c.Request.Context(), lang)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := a.tokens.issue(s.VisitorID(), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, visitorView{VisitorID: s.VisitorID(), Token: token, Lang: s.Lang()})
}

func toSessionView(s *session.Store) sessionView {
	v := sessionView{
		VisitorID:      s.VisitorID(),
		Lang:           s.Lang(),
		Currency:       domain.DefaultCurrency(s.Lang()),
		CompletedTests: s.CompletedTests(),
	}
	if u, ok := s.User(); ok {
		v.User = &u
	}
	return v
}

func (a *API) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, toSessionView(storeFrom(c)))
}

func (a *API) login(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	s := storeFrom(c)
	if _, err := s.Login(c.Request.Context(), domain.Role(req.Role)); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionView(s))
}

func (a *API) logout(c *gin.Context) {
	if err := storeFrom(c).Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) setLang(c *gin.Context) {
	var req struct {
		Lang string `json:"lang" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	s := storeFrom(c)
	if err := s.SetLang(domain.Language(req.Lang)); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionView(s))
}

type (
	testView struct {
		ID          string          `json:"id"`
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Type        domain.TestType `json:"type"`
		PriceTokens int64           `json:"price_tokens"`
		Questions   int             `json:"questions"`
		Completed   bool            `json:"completed"`
	}

	optionView struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}

	questionView struct {
		ID      string       `json:"id"`
		Text    string       `json:"text"`
		Options []optionView `json:"options"`
	}

	runView struct {
		TestID   string       `json:"test_id"`
		Index    int          `json:"index"`
		Total    int          `json:"total"`
		Progress int          `json:"progress"`
		Last     bool         `json:"last"`
		Question questionView `json:"question"`
		Selected string       `json:"selected,omitempty"`
	}

	advanceView struct {
		Run       runView `json:"run"`
		Completed bool    `json:"completed"`
		Score     int64   `json:"score,omitempty"`
		Route     string  `json:"route,omitempty"`
	}
)

func toTestView(t domain.TestDefinition, s *session.Store) testView {
	lang := s.Lang()
	return testView{
		ID:          t.ID,
		Title:       t.Title.Get(lang),
		Description: t.Description.Get(lang),
		Type:        t.Type,
		PriceTokens: t.PriceTokens,
		Questions:   len(t.Questions),
		Completed:   s.IsCompleted(t.ID),
	}
}

func toRunView(st testrun.State, lang domain.Language) runView {
	q := questionView{
		ID:      st.Question.ID,
		Text:    st.Question.Text.Get(lang),
		Options: make([]optionView, 0, len(st.Question.Options)),
	}
	for _, o := range st.Question.Options {
		q.Options = append(q.Options, optionView{ID: o.ID, Text: o.Text.Get(lang)})
	}

	return runView{
		TestID:   st.TestID,
		Index:    st.Index,
		Total:    st.Total,
		Progress: st.Progress(),
		Last:     st.Last(),
		Question: q,
		Selected: st.Selected,
	}
}

func (a *API) listTests(c *gin.Context) {
	s := storeFrom(c)

	tests := a.catalog.Tests()
	views := make([]testView, 0, len(tests))
	for _, t := range tests {
		views = append(views, toTestView(t, s))
	}

	c.JSON(http.StatusOK, gin.H{"tests": views})
}

func (a *API) startTest(c *gin.Context) {
	s := storeFrom(c)

	st, balance, err := a.quiz.Start(c.Request.Context(), s, c.Param("test_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run":     toRunView(st, s.Lang()),
		"balance": balance,
	})
}

func (a *API) getRun(c *gin.Context) {
	s := storeFrom(c)

	st, ok := a.quiz.Current(s.VisitorID())
	if !ok {
		writeError(c, errors.New(errors.CodeNotFound, errors.WithMessagef("no active test")))
		return
	}

	c.JSON(http.StatusOK, toRunView(st, s.Lang()))
}

func (a *API) selectOption(c *gin.Context) {
	var req struct {
		OptionID string `json:"option_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	s := storeFrom(c)
	st, err := a.quiz.Select(s.VisitorID(), req.OptionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRunView(st, s.Lang()))
}

func (a *API) advance(c *gin.Context) {
	s := storeFrom(c)

	step, err := a.quiz.Advance(c.Request.Context(), s)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAdvanceView(step, s.Lang()))
}

func toAdvanceView(step quiz.Step, lang domain.Language) advanceView {
	return advanceView{
		Run:       toRunView(step.State, lang),
		Completed: step.Completed,
		Score:     step.Score,
		Route:     step.Route,
	}
}

func (a *API) retreat(c *gin.Context) {
	s := storeFrom(c)

	st, err := a.quiz.Retreat(s.VisitorID())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRunView(st, s.Lang()))
}

func (a *API) abandon(c *gin.Context) {
	if !a.quiz.Abandon(storeFrom(c).VisitorID()) {
		writeError(c, errors.New(errors.CodeNotFound, errors.WithMessagef("no active test")))
		return
	}

	c.Status(http.StatusNoContent)
}

type (
	visualView struct {
		Type    domain.TestType `json:"type"`
		Percent int             `json:"percent"`
		Level   int             `json:"level"`
		Color   string          `json:"color"`
	}

	resultView struct {
		TestID   string        `json:"test_id"`
		Title    string        `json:"title"`
		Score    int64         `json:"score"`
		MaxScore int64         `json:"max_score"`
		Visual   visualView    `json:"visual"`
		Report   domain.Report `json:"report"`
	}
)

func toResultView(r *report.Result) resultView {
	return resultView{
		TestID:   r.TestID,
		Title:    r.Title,
		Score:    r.Score,
		MaxScore: r.MaxScore,
		Visual: visualView{
			Type:    r.Visual.Type,
			Percent: r.Visual.Percent,
			Level:   r.Visual.Level,
			Color:   r.Visual.Color,
		},
		Report: r.Report,
	}
}

func parseScore(raw string) (int64, error) {
	score, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || score < 0 {
		return 0, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid score: %q", raw))
	}
	return score, nil
}

func (a *API) getResult(c *gin.Context) {
	score, err := parseScore(c.Param("score"))
	if err != nil {
		writeError(c, err)
		return
	}

	r, err := a.report.Result(c.Request.Context(), c.Param("test_id"), score, storeFrom(c).Lang())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResultView(r))
}

type (
	quoteView struct {
		PackageID string          `json:"package_id"`
		Tokens    int64           `json:"tokens"`
		Popular   bool            `json:"popular"`
		Currency  domain.Currency `json:"currency"`
		Amount    string          `json:"amount"`
		Symbol    string          `json:"symbol"`
		Display   string          `json:"display"`
	}

	receiptView struct {
		Quote   quoteView            `json:"quote"`
		Method  domain.PaymentMethod `json:"method"`
		Balance int64                `json:"balance"`
	}
)

func (a *API) toQuoteView(q purchase.Quote) quoteView {
	pkg, _ := a.catalog.Package(q.PackageID)
	return quoteView{
		PackageID: q.PackageID,
		Tokens:    q.Tokens,
		Popular:   pkg.Popular,
		Currency:  q.Currency,
		Amount:    q.Amount.String(),
		Symbol:    q.Symbol,
		Display:   q.Display,
	}
}

// currency reads an optional currency, defaulting to the one of the display language.
func currency(raw string, lang domain.Language) (domain.Currency, error) {
	if raw == "" {
		return domain.DefaultCurrency(lang), nil
	}

	cur, ok := domain.ParseCurrency(raw)
	if !ok {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unsupported currency: %q", raw))
	}
	return cur, nil
}

func (a *API) listPackages(c *gin.Context) {
	cur, err := currency(c.Query("currency"), storeFrom(c).Lang())
	if err != nil {
		writeError(c, err)
		return
	}

	quotes, err := a.purchase.Quotes(cur)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]quoteView, 0, len(quotes))
	for _, q := range quotes {
		views = append(views, a.toQuoteView(q))
	}

	c.JSON(http.StatusOK, gin.H{"currency": cur, "packages": views})
}

func (a *API) purchasePackage(c *gin.Context) {
	var req struct {
		Currency string `json:"currency"`
		Method   string `json:"method"`
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	s := storeFrom(c)
	cur, err := currency(req.Currency, s.Lang())
	if err != nil {
		writeError(c, err)
		return
	}

	r, err := a.purchase.Purchase(c.Request.Context(), s, purchase.PurchaseRequest{
		PackageID: c.Param("package_id"),
		Currency:  cur,
		Method:    domain.PaymentMethod(strings.ToUpper(req.Method)),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, receiptView{
		Quote:   a.toQuoteView(r.Quote),
		Method:  r.Method,
		Balance: r.Balance,
	})
}

func (a *API) grant(c *gin.Context) {
	var req struct {
		TargetID string `json:"target_id"`
		Amount   string `json:"amount"`
	}
	if !bindJSON(c, &req) {
		return
	}

	g, err := a.purchase.Grant(c.Request.Context(), storeFrom(c), purchase.GrantRequest{
		TargetID: req.TargetID,
		Amount:   req.Amount,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"target_id": g.TargetID,
		"amount":    g.Amount,
		"balance":   g.Balance,
	})
}

func (a *API) scanFood(c *gin.Context) {
	image, err := readImage(c)
	if err != nil {
		writeError(c, err)
		return
	}

	s := storeFrom(c)
	n, balance, err := a.food.Scan(c.Request.Context(), s, image, s.Lang())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"estimate": n,
		"balance":  balance,
	})
}

// readImage accepts a multipart "image" file or a JSON body whose "image"
// field holds base64 data, optionally as a data URL.
func readImage(c *gin.Context) ([]byte, error) {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef(format, args...))
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxScanBody)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if tooLarge(err) {
			return nil, invalid("image too large")
		}
		if err != nil {
			return nil, invalid("image file required")
		}
		if fh.Size > maxImageSize {
			return nil, invalid("image too large")
		}

		f, err := fh.Open()
		if err != nil {
			return nil, errors.Internal(err)
		}
		defer func() {
			_ = f.Close()
		}()

		b, err := io.ReadAll(io.LimitReader(f, maxImageSize))
		if err != nil {
			return nil, errors.Internal(err)
		}
		return b, nil
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		if tooLarge(err) {
			return nil, invalid("image too large")
		}
		return nil, invalid("invalid request body")
	}

	data := strings.TrimSpace(req.Image)
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, invalid("malformed data URL")
		}
		data = payload
	}

	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, invalid("image is not valid base64")
	}
	if len(b) > maxImageSize {
		return nil, invalid("image too large")
	}
	return b, nil
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return stderrors.As(err, &mbe)
}
