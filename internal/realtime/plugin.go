package realtime

import (
	"context"
	"database/sql"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Plugin publishes a change event for every row written through gorm that
// carries an organization id, so writes made by webhooks and jobs reach the
// browser the same way user edits do. Writes inside a transaction are held
// until it commits and dropped on rollback.
//
// Rows are attributed to an organization by the model's OrganizationID or,
// for statements on a zero model such as
// Model(&X{}).Where("organization_id = ? AND ...").Updates(...), by the
// organization_id condition of the WHERE clause. Those events carry no
// record.
type Plugin struct {
	pub Publisher
}

func NewPlugin(pub Publisher) *Plugin {
	return &Plugin{pub: pub}
}

func (p *Plugin) Name() string { return "realtime" }

func (p *Plugin) Initialize(db *gorm.DB) error {
	pool := &txPool{ConnPool: db.ConnPool}
	db.ConnPool = pool
	if db.Statement != nil && db.Statement.ConnPool != nil {
		db.Statement.ConnPool = pool
	}

	if err := db.Callback().Create().After("gorm:create").Register("realtime:after_create", p.emit(ActionInsert)); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("realtime:after_update", p.emit(ActionUpdate)); err != nil {
		return err
	}
	return db.Callback().Delete().After("gorm:delete").Register("realtime:after_delete", p.emit(ActionDelete))
}

type pending struct {
	orgID string
	ev    Event
}

func (p *Plugin) emit(action string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil || tx.RowsAffected == 0 || tx.Statement.Schema == nil {
			return
		}
		field := tx.Statement.Schema.LookUpField("OrganizationID")
		if field == nil {
			return
		}
		table := tx.Statement.Table
		var out []pending
		add := func(orgID string, record interface{}) {
			out = append(out, pending{orgID: orgID, ev: Event{Type: EventChange, Table: table, Action: action, Record: record}})
		}

		rv := tx.Statement.ReflectValue
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				row := reflect.Indirect(rv.Index(i))
				if orgID, ok := rowOrg(tx, field, row); ok {
					add(orgID, row.Interface())
				}
			}
		case reflect.Struct:
			if orgID, ok := rowOrg(tx, field, rv); ok {
				add(orgID, rv.Interface())
			} else if orgID, ok := whereOrg(tx.Statement); ok {
				add(orgID, nil)
			}
		}
		if len(out) == 0 {
			return
		}

		if t, ok := tx.Statement.ConnPool.(*pendingTx); ok {
			t.hold(p.pub, out)
			return
		}
		for _, e := range out {
			p.pub.Publish(e.orgID, e.ev)
		}
	}
}

func rowOrg(tx *gorm.DB, field *schema.Field, rv reflect.Value) (string, bool) {
	if rv.Kind() != reflect.Struct || !rv.CanInterface() {
		return "", false
	}
	v, zero := field.ValueOf(tx.Statement.Context, rv)
	if zero {
		return "", false
	}
	orgID, ok := v.(string)
	return orgID, ok && orgID != ""
}

var orgCondition = regexp.MustCompile(`(?i)^(?:[a-z_]+\.)?organization_id\s*=\s*\?`)

// whereOrg finds an equality on organization_id among the AND-ed WHERE
// conditions of stmt.
func whereOrg(stmt *gorm.Statement) (string, bool) {
	c, ok := stmt.Clauses["WHERE"]
	if !ok {
		return "", false
	}
	where, ok := c.Expression.(clause.Where)
	if !ok {
		return "", false
	}
	return orgInExprs(where.Exprs)
}

func orgInExprs(exprs []clause.Expression) (string, bool) {
	for _, e := range exprs {
		switch expr := e.(type) {
		case clause.Eq:
			if columnName(expr.Column) == "organization_id" {
				if s, ok := expr.Value.(string); ok && s != "" {
					return s, true
				}
			}
		case clause.Expr:
			if orgID, ok := orgInSQL(expr.SQL, expr.Vars); ok {
				return orgID, true
			}
		case clause.AndConditions:
			if orgID, ok := orgInExprs(expr.Exprs); ok {
				return orgID, true
			}
		}
	}
	return "", false
}

func columnName(col interface{}) string {
	switch c := col.(type) {
	case string:
		return c[strings.LastIndex(c, ".")+1:]
	case clause.Column:
		return c.Name
	}
	return ""
}

// orgInSQL handles conditions written as "a = ? AND organization_id = ?".
// Conditions using OR are not attributed.
func orgInSQL(sql string, vars []interface{}) (string, bool) {
	if strings.Contains(strings.ToUpper(sql), " OR ") {
		return "", false
	}
	placeholder := 0
	for _, part := range strings.Split(sql, " AND ") {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "()"))
		if orgCondition.MatchString(part) && placeholder < len(vars) {
			s, ok := vars[placeholder].(string)
			return s, ok && s != ""
		}
		placeholder += strings.Count(part, "?")
	}
	return "", false
}

// txPool wraps the connection pool so each transaction it begins collects
// its events until commit.
type txPool struct {
	gorm.ConnPool
}

func (p *txPool) BeginTx(ctx context.Context, opts *sql.TxOptions) (gorm.ConnPool, error) {
	var (
		conn gorm.ConnPool
		err  error
	)
	switch b := p.ConnPool.(type) {
	case gorm.TxBeginner:
		conn, err = b.BeginTx(ctx, opts)
	case gorm.ConnPoolBeginner:
		conn, err = b.BeginTx(ctx, opts)
	default:
		return nil, gorm.ErrInvalidTransaction
	}
	if err != nil {
		return nil, err
	}
	return &pendingTx{ConnPool: conn}, nil
}

func (p *txPool) GetDBConn() (*sql.DB, error) {
	switch c := p.ConnPool.(type) {
	case *sql.DB:
		return c, nil
	case gorm.GetDBConnector:
		return c.GetDBConn()
	}
	return nil, gorm.ErrInvalidDB
}

type pendingTx struct {
	gorm.ConnPool
	mu     sync.Mutex
	pub    Publisher
	events []pending
}

func (t *pendingTx) hold(pub Publisher, events []pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pub = pub
	t.events = append(t.events, events...)
}

func (t *pendingTx) Commit() error {
	committer, ok := t.ConnPool.(gorm.TxCommitter)
	if !ok {
		return gorm.ErrInvalidTransaction
	}
	if err := committer.Commit(); err != nil {
		t.discard()
		return err
	}
	t.mu.Lock()
	events, pub := t.events, t.pub
	t.events = nil
	t.mu.Unlock()
	for _, e := range events {
		pub.Publish(e.orgID, e.ev)
	}
	return nil
}

func (t *pendingTx) Rollback() error {
	t.discard()
	committer, ok := t.ConnPool.(gorm.TxCommitter)
	if !ok {
		return gorm.ErrInvalidTransaction
	}
	return committer.Rollback()
}

func (t *pendingTx) discard() {
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
}
