package supabase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

type childRow struct {
	ID         string `json:"id"`
	Nickname   string `json:"nickname"`
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	Appearance string `json:"appearance"`
}

// ChildrenClient loads generation briefs from the children table through PostgREST.
type ChildrenClient struct {
	client *Client
}

func NewChildrenClient(client *Client) *ChildrenClient {
	return &ChildrenClient{client: client}
}

func (c *ChildrenClient) LoadBrief(ctx context.Context, userID, childID uuid.UUID) (*models.Brief, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []childRow
	_, err := c.client.Supabase.
		From("children").
		Select("id,nickname,age,gender,appearance", "", false).
		Eq("id", childID.String()).
		Eq("user_id", userID.String()).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("child %s: %w", childID, models.ErrNotFound)
	}

	row := rows[0]
	return &models.Brief{
		ChildID:    childID,
		Nickname:   row.Nickname,
		Age:        row.Age,
		Gender:     row.Gender,
		Appearance: row.Appearance,
	}, nil
}
