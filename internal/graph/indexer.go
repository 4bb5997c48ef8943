package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/ruby4mag/riskgate-backend/internal/models"
)

const indexTimeout = 5 * time.Second

const indexAssessmentQuery = `
MERGE (u:User {id: $userId})
CREATE (a:Assessment {id: $assessmentId, createdAt: $createdAt, source: $source, role: $role,
                      finalScore: $finalScore, digitalScore: $digitalScore, geoScore: $geoScore})
MERGE (u)-[:RAN]->(a)
WITH a
UNWIND $risks AS risk
MERGE (r:Risk {id: risk.id})
SET r.title = risk.title, r.severity = risk.severity, r.status = risk.status
MERGE (a)-[:IDENTIFIED]->(r)
MERGE (c:Category {name: risk.category})
MERGE (r)-[:IN_CATEGORY]->(c)
`

const indexAssessmentOnlyQuery = `
MERGE (u:User {id: $userId})
CREATE (a:Assessment {id: $assessmentId, createdAt: $createdAt, source: $source, role: $role,
                      finalScore: $finalScore, digitalScore: $digitalScore, geoScore: $geoScore})
MERGE (u)-[:RAN]->(a)
`

const recurringCategoriesQuery = `
MATCH (:User {id: $userId})-[:RAN]->(a:Assessment)-[:IDENTIFIED]->(:Risk)-[:IN_CATEGORY]->(c:Category)
WITH c.name AS category, count(DISTINCT a) AS assessments
WHERE assessments >= $minAssessments
RETURN category, assessments
ORDER BY assessments DESC, category ASC
LIMIT $limit
`

// CategoryCount is how many assessments of a user found risks in a category.
type CategoryCount struct {
	Category    string `json:"category"`
	Assessments int64  `json:"assessments"`
}

// Indexer writes assessments into the graph and answers lineage queries.
type Indexer struct {
	client Client
}

func NewIndexer(client Client) *Indexer {
	return &Indexer{client: client}
}

// IndexAssessment records one assessment and the risks it identified.
func (i *Indexer) IndexAssessment(ctx context.Context, assessmentID string, summary models.AssessmentSummary, risks []models.Risk) error {
	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	params := map[string]any{
		"userId":       summary.UserID,
		"assessmentId": assessmentID,
		"createdAt":    summary.CreatedAt.UTC().Format(time.RFC3339),
		"source":       summary.Source,
		"role":         summary.Role,
		"finalScore":   int64(summary.FinalScore),
		"digitalScore": summary.DigitalScore,
		"geoScore":     summary.GeoScore,
	}

	query := indexAssessmentOnlyQuery
	if len(risks) > 0 {
		items := make([]map[string]any, 0, len(risks))
		for _, r := range risks {
			category := r.Category
			if category == "" {
				category = "Uncategorized"
			}
			items = append(items, map[string]any{
				"id":       r.RiskID,
				"title":    r.Title,
				"severity": string(r.Severity),
				"status":   string(r.Status),
				"category": category,
			})
		}
		params["risks"] = items
		query = indexAssessmentQuery
	}

	if _, err := i.client.ExecuteWrite(ctx, query, params); err != nil {
		return fmt.Errorf("index assessment %s: %w", assessmentID, err)
	}
	return nil
}

// RecurringCategories lists the categories that showed up in at least
// minAssessments of the user's assessments, most frequent first.
func (i *Indexer) RecurringCategories(ctx context.Context, userID string, minAssessments, limit int) ([]CategoryCount, error) {
	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	if minAssessments < 1 {
		minAssessments = 1
	}
	if limit <= 0 {
		limit = 10
	}
	res, err := i.client.ExecuteRead(ctx, recurringCategoriesQuery, map[string]any{
		"userId":         userID,
		"minAssessments": int64(minAssessments),
		"limit":          int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query recurring categories: %w", err)
	}

	out := make([]CategoryCount, 0, len(res.Records))
	for _, rec := range res.Records {
		name, _ := rec["category"].(string)
		count, _ := rec["assessments"].(int64)
		out = append(out, CategoryCount{Category: name, Assessments: count})
	}
	return out, nil
}
