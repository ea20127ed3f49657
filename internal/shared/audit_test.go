package shared

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerRecord(t *testing.T) {
	exec := &recordingExecer{}
	logger := NewAuditLogger(exec)

	err := logger.Record(context.Background(), AuditLog{
		Action:   "consolidation.run",
		Entity:   "financial_statement",
		EntityID: "fs-1",
		Meta:     map[string]any{"entries": 4},
	})
	require.NoError(t, err)
	args := exec.args[0]
	require.Equal(t, SystemActor, args[0])
	require.Equal(t, "consolidation.run", args[1])

	var meta map[string]any
	require.NoError(t, json.Unmarshal(args[4].([]byte), &meta))
	require.EqualValues(t, 4, meta["entries"])
	require.Nil(t, args[5].(*time.Time))

	at := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, logger.Record(context.Background(), AuditLog{Actor: "u-anna", Action: "entry.approve", Entity: "consolidation_entry", EntityID: "e-1", At: at}))
	require.Equal(t, "u-anna", exec.args[1][0])
	require.Equal(t, at, *exec.args[1][5].(*time.Time))
}

func TestAuditLoggerRejectsIncompleteRecords(t *testing.T) {
	exec := &recordingExecer{}
	err := NewAuditLogger(exec).Record(context.Background(), AuditLog{Action: "entry.submit"})
	require.ErrorContains(t, err, "entity")
	require.ErrorContains(t, err, "entity_id")
	require.Empty(t, exec.sql)

	exec.err = errors.New("relation audit_logs does not exist")
	err = NewAuditLogger(exec).Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"})
	require.ErrorIs(t, err, exec.err)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}

func TestValidateApproval(t *testing.T) {
	valid := ApprovalLog{Module: "consolidation_entry", RefID: uuid.New(), Actor: "u-ben", Action: ApprovalApprove}
	require.NoError(t, ValidateApproval(valid))

	cases := map[string]func(*ApprovalLog){
		"module": func(l *ApprovalLog) { l.Module = "" },
		"actor":  func(l *ApprovalLog) { l.Actor = "" },
		"ref id": func(l *ApprovalLog) { l.RefID = uuid.Nil },
		"action": func(l *ApprovalLog) { l.Action = "ESCALATE" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			l := valid
			mutate(&l)
			require.ErrorContains(t, ValidateApproval(l), field)
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, p := Paginate(items, 2, 2)
	require.Equal(t, []int{3, 4}, page)
	require.Equal(t, Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, p)

	page, p = Paginate(items, 3, 2)
	require.Equal(t, []int{5}, page)

	page, p = Paginate(items, 9, 2)
	require.NotNil(t, page)
	require.Empty(t, page)
	require.Equal(t, 9, p.Page)

	page, p = Paginate(items, 0, 0)
	require.Len(t, page, 5)
	require.Equal(t, DefaultPerPage, p.PerPage)
	require.Equal(t, 1, p.TotalPages)

	page[0] = 99
	require.Equal(t, 1, items[0])

	_, p = Paginate([]int(nil), 1, 10)
	require.Zero(t, p.TotalPages)
}
