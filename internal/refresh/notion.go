package refresh

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/finledger/pipeline/internal/domain"
)

// NotionPages is the subset of the Notion SDK the refresher calls, split out
// so tests can fake it.
type NotionPages interface {
	Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// Notion appends one page per finished batch to a Notion database, as a
// lightweight import journal.
type Notion struct {
	pages      NotionPages
	databaseID string
}

func NewNotion(token, databaseID string) *Notion {
	client := notionapi.NewClient(notionapi.Token(token))
	return &Notion{pages: client.Page, databaseID: databaseID}
}

func NewNotionWithPages(pages NotionPages, databaseID string) *Notion {
	return &Notion{pages: pages, databaseID: databaseID}
}

func (n *Notion) Refresh(ctx context.Context, b *domain.ImportBatch) error {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(n.databaseID),
		},
		Properties: batchToNotionProperties(b),
	}

	if _, err := n.pages.Create(ctx, req); err != nil {
		return fmt.Errorf("Notion.Refresh: creating batch page: %w", err)
	}
	return nil
}

func batchToNotionProperties(b *domain.ImportBatch) notionapi.Properties {
	props := notionapi.Properties{
		"Batch": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: fmt.Sprintf("%s (%s)", b.FileName, b.BatchID),
					},
				},
			},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(b.Status),
			},
		},
		"Source": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(b.SourceType),
			},
		},
		"Written": notionapi.NumberProperty{
			Number: float64(b.Written),
		},
		"Skipped": notionapi.NumberProperty{
			Number: float64(b.SkippedDuplicate),
		},
		"Failed": notionapi.NumberProperty{
			Number: float64(b.Failed),
		},
		"Needs Review": notionapi.NumberProperty{
			Number: float64(b.NeedsReview),
		},
	}

	if b.FinishedAt != nil {
		finished := notionapi.Date(*b.FinishedAt)
		props["Imported At"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: &finished,
			},
		}
	}
	return props
}
