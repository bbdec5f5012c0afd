// Package report turns completed tests and food photos into human readable
// results by delegating to the generative AI collaborator.
package report

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/victornm/novatest/internal/catalog"
	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/genai"
)

// Generator is the AI collaborator.
type Generator interface {
	GenerateJSON(ctx context.Context, parts []genai.Part, schema *genai.Schema, out any) error
}

type Config struct {
	Generator Generator
	Catalog   *catalog.Catalog
	EventBus  *event.Bus
}

type Service struct {
	gen     Generator
	catalog *catalog.Catalog
	eb      *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		gen:     c.Generator,
		catalog: c.Catalog,
		eb:      c.EventBus,
	}
}

var ErrIncomplete = stderrors.New("report: response misses required fields")

var reportSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]genai.Schema{
		"title":           {Type: genai.TypeString},
		"summary":         {Type: genai.TypeString},
		"details":         {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"recommendations": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"title", "summary", "details", "recommendations"},
}

type reportPayload struct {
	Title           *string   `json:"title"`
	Summary         *string   `json:"summary"`
	Details         *[]string `json:"details"`
	Recommendations *[]string `json:"recommendations"`
}

func (p reportPayload) toDomain() (domain.Report, error) {
	if p.Title == nil || p.Summary == nil || p.Details == nil || p.Recommendations == nil {
		return domain.Report{}, ErrIncomplete
	}
	return domain.Report{
		Title:           *p.Title,
		Summary:         *p.Summary,
		Details:         *p.Details,
		Recommendations: *p.Recommendations,
	}, nil
}

// Fallback is the report shown when generation fails. It echoes the title.
func Fallback(title string) domain.Report {
	return domain.Report{
		Title:   title,
		Summary: "An error occurred generating the report, but your results are saved.",
		Details: []string{
			"High energy potential detected.",
			"Consistency is key.",
		},
		Recommendations: []string{
			"Maintain current routine.",
			"Join our Telegram for more tips.",
		},
	}
}

// GenerateReport asks the collaborator for a report. It never fails: any
// error is logged and replaced by the fallback report.
func (s *Service) GenerateReport(ctx context.Context, title string, score, maxScore int64, lang domain.Language) domain.Report {
	prompt := fmt.Sprintf(`Generate a psychological/lifestyle report for a test titled %q.
The user scored %d out of %d.
Language: %s.
Provide a professional, encouraging, and detailed summary.`, title, score, maxScore, lang.Name())

	var p reportPayload
	err := s.gen.GenerateJSON(ctx, []genai.Part{genai.Text(prompt)}, reportSchema, &p)
	if err == nil {
		r, verr := p.toDomain()
		if verr == nil {
			return r
		}
		err = verr
	}

	slog.WarnContext(ctx, "report: generation failed, using fallback",
		"title", title,
		"error", err,
	)
	s.eb.Publish(ctx, domain.EventReportFallback{Title: title, Reason: err.Error()})

	return Fallback(title)
}

var nutritionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]genai.Schema{
		"foodName":  {Type: genai.TypeString, Description: "Common name of the meal"},
		"calories":  {Type: genai.TypeNumber, Description: "Estimated total calories"},
		"protein":   {Type: genai.TypeString, Description: "Protein in grams (e.g. '25g')"},
		"carbs":     {Type: genai.TypeString, Description: "Carbohydrates in grams"},
		"fat":       {Type: genai.TypeString, Description: "Fats in grams"},
		"healthTip": {Type: genai.TypeString, Description: "A quick advice related to this specific food"},
	},
	Required: []string{"foodName", "calories", "protein", "carbs", "fat", "healthTip"},
}

type nutritionPayload struct {
	FoodName  *string  `json:"foodName"`
	Calories  *float64 `json:"calories"`
	Protein   *string  `json:"protein"`
	Carbs     *string  `json:"carbs"`
	Fat       *string  `json:"fat"`
	HealthTip *string  `json:"healthTip"`
}

func (p nutritionPayload) toDomain() (domain.NutritionEstimate, error) {
	if p.FoodName == nil || p.Calories == nil || p.Protein == nil ||
		p.Carbs == nil || p.Fat == nil || p.HealthTip == nil {
		return domain.NutritionEstimate{}, ErrIncomplete
	}
	return domain.NutritionEstimate{
		FoodName:  *p.FoodName,
		Calories:  *p.Calories,
		Protein:   *p.Protein,
		Carbs:     *p.Carbs,
		Fat:       *p.Fat,
		HealthTip: *p.HealthTip,
	}, nil
}

// AnalyzeImage estimates the nutrition of the food in a JPEG image. Unlike
// GenerateReport it returns every failure to the caller.
func (s *Service) AnalyzeImage(ctx context.Context, image []byte, lang domain.Language) (*domain.NutritionEstimate, error) {
	if len(image) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("empty image"))
	}

	prompt := fmt.Sprintf(`Analyze this food image and estimate its caloric and nutritional content.
Provide a realistic estimation based on standard portion sizes visible.
Language: %s.`, lang.Name())

	var p nutritionPayload
	if err := s.gen.GenerateJSON(ctx, []genai.Part{genai.JPEG(image), genai.Text(prompt)}, nutritionSchema, &p); err != nil {
		return nil, fmt.Errorf("report: analyze image: %w", err)
	}

	n, err := p.toDomain()
	if err != nil {
		return nil, fmt.Errorf("report: analyze image: %w", err)
	}

	return &n, nil
}

// Visual is the score visualization of a result view.
type Visual struct {
	Type    domain.TestType
	Percent int
	// Level is the filled share of the energy scale, clamped to [5, 100].
	Level int
	Color string
}

const (
	colorRed    = "red"
	colorYellow = "yellow"
	colorGreen  = "green"
)

func visualize(t domain.TestType, score, maxScore int64) Visual {
	ratio := float64(score) / float64(maxScore) * 100

	level := math.Min(math.Max(ratio, 5), 100)
	color := colorRed
	switch {
	case level > 66:
		color = colorGreen
	case level > 33:
		color = colorYellow
	}

	return Visual{
		Type:    t,
		Percent: int(math.Round(ratio)),
		Level:   int(math.Round(level)),
		Color:   color,
	}
}

// Result is everything a result view renders.
type Result struct {
	TestID   string
	Title    string
	Score    int64
	MaxScore int64
	Visual   Visual
	Report   domain.Report
}

// Result builds the result view of a test. It is recomputed on every visit.
func (s *Service) Result(ctx context.Context, testID string, score int64, lang domain.Language) (*Result, error) {
	t, ok := s.catalog.Test(testID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: %q", testID))
	}

	title := t.Title.Get(lang)
	maxScore := t.MaxScore()

	return &Result{
		TestID:   t.ID,
		Title:    title,
		Score:    score,
		MaxScore: maxScore,
		Visual:   visualize(t.Type, score, maxScore),
		Report:   s.GenerateReport(ctx, title, score, maxScore, lang),
	}, nil
}
