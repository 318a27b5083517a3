package api

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

type meta struct {
	TotalRecords uint64  `json:"totalRecords"`
	Offset       *uint64 `json:"offset,omitempty"`
	Limit        *uint64 `json:"limit,omitempty"`
	Count        uint64  `json:"count"`
}

type links struct {
	Self  *string `json:"self,omitempty"`
	First *string `json:"first,omitempty"`
	Prev  *string `json:"prev,omitempty"`
	Next  *string `json:"next,omitempty"`
	Last  *string `json:"last,omitempty"`
}

type ApiResponse struct {
	Meta  *meta  `json:"meta,omitempty"`
	Data  any    `json:"data"`
	Links *links `json:"links,omitempty"`
}

func newCollectionResponse[T any](c types.Collection[T], u *url.URL) ApiResponse {
	offset := c.Offset
	limit := c.Limit

	response := ApiResponse{
		Meta: &meta{
			TotalRecords: c.TotalCount,
			Offset:       &offset,
			Limit:        &limit,
			Count:        c.Count,
		},
		Data: c.Data,
	}

	if u != nil {
		response.Links = createLinks(u, c)
	}

	return response
}

func createLinks[T any](u *url.URL, c types.Collection[T]) *links {
	withOffset := func(offset uint64) *string {
		q := u.Query()
		q.Set("offset", strconv.FormatUint(offset, 10))
		q.Set("limit", strconv.FormatUint(c.Limit, 10))
		href := u.Path + "?" + q.Encode()
		return &href
	}

	self := u.String()
	l := &links{Self: &self}

	if c.Limit == 0 {
		return l
	}

	if c.Offset+c.Limit < c.TotalCount {
		l.Next = withOffset(c.Offset + c.Limit)
		l.Last = withOffset(((c.TotalCount - 1) / c.Limit) * c.Limit)
	}

	if c.Offset > 0 {
		prev := uint64(0)
		if c.Offset > c.Limit {
			prev = c.Offset - c.Limit
		}
		l.Prev = withOffset(prev)
		l.First = withOffset(0)
	}

	return l
}

func writeCsvWithAlerts(w io.Writer, alerts []types.Alert) error {
	header := []string{"alertID", "patientID", "tenant", "severity", "condition", "state", "title", "createdAt", "acknowledgedBy", "acknowledgedAt", "resolvedAt"}

	stamp := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}

	rows := lo.Map(alerts, func(a types.Alert, _ int) []string {
		return []string{
			a.ID,
			a.PatientID,
			a.Tenant,
			a.Severity,
			a.Condition,
			a.State,
			a.Title,
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.AcknowledgedBy,
			stamp(a.AcknowledgedAt),
			stamp(a.ResolvedAt),
		}
	})

	for _, row := range append([][]string{header}, rows...) {
		_, err := fmt.Fprintln(w, strings.Join(row, ";"))
		if err != nil {
			return err
		}
	}

	return nil
}
