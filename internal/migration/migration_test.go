package migration

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestApplySchemaIsRepeatable(t *testing.T) {
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema twice: %v", err)
	}

	for _, table := range []string{"registration_sessions", "orders", "order_items", "payment_attempts", "webhook_events", "order_notifications", "events", "ticket_types"} {
		var count int64
		if err := db.Raw("SELECT COUNT(*) FROM " + table).Scan(&count).Error; err != nil {
			t.Fatalf("query %s: %v", table, err)
		}
	}
}
