package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	errStageMismatch  = errors.New("stage does not belong to the deal's funnel")
	errUnknownContact = errors.New("contact not found in this organization")
)

type FunnelHandler struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewFunnelHandler(db *gorm.DB) *FunnelHandler {
	return &FunnelHandler{DB: db, Now: time.Now}
}

func orderedStages(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func (h *FunnelHandler) GetFunnels(c *gin.Context) {
	funnels := []models.Funnel{}
	err := h.DB.Preload("Stages", orderedStages).
		Where("organization_id = ?", auth.OrgID(c)).
		Order("created_at").
		Find(&funnels).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, funnels)
}

type StageRequest struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Position *int   `json:"position"`
	IsWon    bool   `json:"is_won"`
	IsLost   bool   `json:"is_lost"`
}

type FunnelRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	Stages      []StageRequest `json:"stages"`
}

var defaultStages = []StageRequest{
	{Name: "Novo"}, {Name: "Em negociação"}, {Name: "Ganho", IsWon: true}, {Name: "Perdido", IsLost: true},
}

// CreateFunnel creates a funnel with the given stages, or a default
// new/negotiating/won/lost pipeline when none are sent.
func (h *FunnelHandler) CreateFunnel(c *gin.Context) {
	var req FunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	stages := req.Stages
	if len(stages) == 0 {
		stages = defaultStages
	}
	for _, s := range stages {
		if s.IsWon && s.IsLost {
			badRequest(c, "a stage cannot be both won and lost")
			return
		}
	}
	orgID := auth.OrgID(c)
	funnel := models.Funnel{OrganizationID: orgID, Name: req.Name, Description: req.Description}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Stages").Create(&funnel).Error; err != nil {
			return err
		}
		for i, s := range stages {
			stage := models.FunnelStage{
				OrganizationID: orgID,
				FunnelID:       funnel.ID,
				Name:           s.Name,
				Color:          s.Color,
				Position:       i,
				IsWon:          s.IsWon,
				IsLost:         s.IsLost,
			}
			if err := tx.Create(&stage).Error; err != nil {
				return err
			}
			funnel.Stages = append(funnel.Stages, stage)
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, funnel)
}

func (h *FunnelHandler) loadFunnel(c *gin.Context, id string) (models.Funnel, bool) {
	var f models.Funnel
	err := h.DB.Preload("Stages", orderedStages).
		Where("organization_id = ? AND id = ?", auth.OrgID(c), id).
		First(&f).Error
	if err != nil {
		respondError(c, err)
		return f, false
	}
	return f, true
}

func (h *FunnelHandler) UpdateFunnel(c *gin.Context) {
	f, ok := h.loadFunnel(c, c.Param("id"))
	if !ok {
		return
	}
	var req FunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.DB.Model(&f).Updates(map[string]interface{}{"name": req.Name, "description": req.Description}).Error; err != nil {
		respondError(c, err)
		return
	}
	f.Name, f.Description = req.Name, req.Description
	c.JSON(http.StatusOK, f)
}

// DeleteFunnel removes the funnel with its stages and deals.
func (h *FunnelHandler) DeleteFunnel(c *gin.Context) {
	f, ok := h.loadFunnel(c, c.Param("id"))
	if !ok {
		return
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("funnel_id = ? AND organization_id = ?", f.ID, f.OrganizationID).Delete(&models.Deal{}).Error; err != nil {
			return err
		}
		if err := tx.Where("funnel_id = ? AND organization_id = ?", f.ID, f.OrganizationID).Delete(&models.FunnelStage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&f).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Funnel deleted"})
}

func (h *FunnelHandler) CreateStage(c *gin.Context) {
	f, ok := h.loadFunnel(c, c.Param("id"))
	if !ok {
		return
	}
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		badRequest(c, "name is required")
		return
	}
	if req.IsWon && req.IsLost {
		badRequest(c, "a stage cannot be both won and lost")
		return
	}
	pos := len(f.Stages)
	if req.Position != nil {
		pos = *req.Position
	}
	stage := models.FunnelStage{
		OrganizationID: f.OrganizationID,
		FunnelID:       f.ID,
		Name:           req.Name,
		Color:          req.Color,
		Position:       pos,
		IsWon:          req.IsWon,
		IsLost:         req.IsLost,
	}
	if err := h.DB.Create(&stage).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stage)
}

func (h *FunnelHandler) loadStage(c *gin.Context) (models.FunnelStage, bool) {
	var s models.FunnelStage
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("stageId")).First(&s).Error
	if err != nil {
		respondError(c, err)
		return s, false
	}
	return s, true
}

func (h *FunnelHandler) UpdateStage(c *gin.Context) {
	stage, ok := h.loadStage(c)
	if !ok {
		return
	}
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.IsWon && req.IsLost {
		badRequest(c, "a stage cannot be both won and lost")
		return
	}
	updates := map[string]interface{}{"color": req.Color, "is_won": req.IsWon, "is_lost": req.IsLost}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Position != nil {
		updates["position"] = *req.Position
	}
	if err := h.DB.Model(&stage).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	h.DB.First(&stage, "id = ?", stage.ID)
	c.JSON(http.StatusOK, stage)
}

// DeleteStage refuses while deals still sit in the stage.
func (h *FunnelHandler) DeleteStage(c *gin.Context) {
	stage, ok := h.loadStage(c)
	if !ok {
		return
	}
	var n int64
	h.DB.Model(&models.Deal{}).Where("stage_id = ?", stage.ID).Count(&n)
	if n > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("stage has %d deals", n)})
		return
	}
	if err := h.DB.Delete(&stage).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Stage deleted"})
}

type ReorderRequest struct {
	StageIDs []string `json:"stage_ids" binding:"required"`
}

// ReorderStages sets positions from the order of stage_ids, which must list
// every stage of the funnel.
func (h *FunnelHandler) ReorderStages(c *gin.Context) {
	f, ok := h.loadFunnel(c, c.Param("id"))
	if !ok {
		return
	}
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	known := map[string]bool{}
	for _, s := range f.Stages {
		known[s.ID] = true
	}
	if len(req.StageIDs) != len(known) {
		badRequest(c, "stage_ids must list every stage of the funnel")
		return
	}
	for _, id := range req.StageIDs {
		if !known[id] {
			badRequest(c, "unknown stage "+id)
			return
		}
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		for i, id := range req.StageIDs {
			err := tx.Model(&models.FunnelStage{}).
				Where("id = ? AND organization_id = ?", id, f.OrganizationID).
				Update("position", i).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	f, _ = h.loadFunnel(c, f.ID)
	c.JSON(http.StatusOK, f)
}

// --- Deals ---

func (h *FunnelHandler) dealQuery(c *gin.Context) *gorm.DB {
	q := h.DB.Where("organization_id = ?", auth.OrgID(c))
	if v := c.Query("funnel_id"); v != "" {
		q = q.Where("funnel_id = ?", v)
	}
	if v := c.Query("stage_id"); v != "" {
		q = q.Where("stage_id = ?", v)
	}
	if v := c.Query("status"); v != "" {
		q = q.Where("status = ?", v)
	}
	return q
}

func (h *FunnelHandler) GetDeals(c *gin.Context) {
	deals := []models.Deal{}
	if err := h.dealQuery(c).Order("created_at DESC").Find(&deals).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deals)
}

type DealRequest struct {
	FunnelID     string                 `json:"funnel_id"`
	StageID      string                 `json:"stage_id"`
	ContactID    *string                `json:"contact_id"`
	OwnerID      string                 `json:"owner_id"`
	Title        string                 `json:"title"`
	Value        *float64               `json:"value"`
	CustomFields map[string]interface{} `json:"custom_fields"`
}

// applyStage places deal in stage. Won and lost stages close the deal; any
// other stage reopens it.
func applyStage(deal *models.Deal, stage models.FunnelStage, now time.Time) error {
	if stage.FunnelID != deal.FunnelID {
		return errStageMismatch
	}
	deal.StageID = stage.ID
	switch {
	case stage.IsWon:
		deal.Status = models.DealWon
	case stage.IsLost:
		deal.Status = models.DealLost
	default:
		deal.Status = models.DealOpen
		deal.ClosedAt = nil
		return nil
	}
	if deal.ClosedAt == nil {
		t := now
		deal.ClosedAt = &t
	}
	return nil
}

func (h *FunnelHandler) stageFor(orgID, funnelID, stageID string) (models.FunnelStage, error) {
	if stageID != "" {
		var s models.FunnelStage
		if err := h.DB.Where("organization_id = ? AND id = ?", orgID, stageID).First(&s).Error; err != nil {
			return s, err
		}
		if s.FunnelID != funnelID {
			return s, errStageMismatch
		}
		return s, nil
	}
	var stage models.FunnelStage
	err := h.DB.Where("organization_id = ? AND funnel_id = ?", orgID, funnelID).
		Order("position").
		First(&stage).Error
	return stage, err
}

func (h *FunnelHandler) CreateDeal(c *gin.Context) {
	var req DealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Title == "" || req.FunnelID == "" {
		badRequest(c, "title and funnel_id are required")
		return
	}
	orgID := auth.OrgID(c)
	if _, ok := h.loadFunnel(c, req.FunnelID); !ok {
		return
	}
	stage, err := h.stageFor(orgID, req.FunnelID, req.StageID)
	if err != nil {
		h.dealError(c, err)
		return
	}
	if req.ContactID != nil && *req.ContactID == "" {
		req.ContactID = nil
	}
	if req.ContactID != nil {
		if err := h.checkContact(orgID, *req.ContactID); err != nil {
			h.dealError(c, err)
			return
		}
	}
	values, err := parseCustomFields(h.DB, orgID, "deal", req.CustomFields)
	if err != nil {
		respondError(c, err)
		return
	}
	deal := models.Deal{
		OrganizationID: orgID,
		FunnelID:       req.FunnelID,
		ContactID:      req.ContactID,
		OwnerID:        req.OwnerID,
		Title:          req.Title,
		CustomFields:   values,
	}
	if deal.OwnerID == "" {
		deal.OwnerID = auth.UserID(c)
	}
	if req.Value != nil {
		deal.Value = *req.Value
	}
	if err := applyStage(&deal, stage, h.Now()); err != nil {
		h.dealError(c, err)
		return
	}
	if err := h.DB.Create(&deal).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deal)
}

// checkContact makes sure a deal only links a contact of its own organization.
func (h *FunnelHandler) checkContact(orgID, contactID string) error {
	var n int64
	err := h.DB.Model(&models.Contact{}).
		Where("organization_id = ? AND id = ?", orgID, contactID).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return errUnknownContact
	}
	return nil
}

func (h *FunnelHandler) dealError(c *gin.Context, err error) {
	if errors.Is(err, errStageMismatch) || errors.Is(err, errUnknownContact) {
		badRequest(c, err.Error())
		return
	}
	respondError(c, err)
}

func (h *FunnelHandler) loadDeal(c *gin.Context) (models.Deal, bool) {
	var d models.Deal
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&d).Error
	if err != nil {
		respondError(c, err)
		return d, false
	}
	return d, true
}

func (h *FunnelHandler) UpdateDeal(c *gin.Context) {
	deal, ok := h.loadDeal(c)
	if !ok {
		return
	}
	var req DealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	updates := map[string]interface{}{}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Value != nil {
		updates["value"] = *req.Value
	}
	if req.ContactID != nil {
		if *req.ContactID == "" {
			updates["contact_id"] = nil
		} else {
			if err := h.checkContact(deal.OrganizationID, *req.ContactID); err != nil {
				h.dealError(c, err)
				return
			}
			updates["contact_id"] = *req.ContactID
		}
	}
	if req.OwnerID != "" {
		updates["owner_id"] = req.OwnerID
	}
	if req.CustomFields != nil {
		values, err := parseCustomFields(h.DB, deal.OrganizationID, "deal", req.CustomFields)
		if err != nil {
			respondError(c, err)
			return
		}
		updates["custom_fields"] = mergeValues(deal.CustomFields, values, req.CustomFields)
	}
	if len(updates) > 0 {
		if err := h.DB.Model(&deal).Updates(updates).Error; err != nil {
			respondError(c, err)
			return
		}
	}
	if err := h.DB.First(&deal, "id = ?", deal.ID).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

type MoveRequest struct {
	StageID string `json:"stage_id" binding:"required"`
}

// MoveDeal puts the deal in another stage of its own funnel.
func (h *FunnelHandler) MoveDeal(c *gin.Context) {
	deal, ok := h.loadDeal(c)
	if !ok {
		return
	}
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	stage, err := h.stageFor(deal.OrganizationID, deal.FunnelID, req.StageID)
	if err != nil {
		h.dealError(c, err)
		return
	}
	if err := applyStage(&deal, stage, h.Now()); err != nil {
		h.dealError(c, err)
		return
	}
	err = h.DB.Model(&deal).Updates(map[string]interface{}{
		"stage_id":  deal.StageID,
		"status":    deal.Status,
		"closed_at": deal.ClosedAt,
	}).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func (h *FunnelHandler) DeleteDeal(c *gin.Context) {
	deal, ok := h.loadDeal(c)
	if !ok {
		return
	}
	if err := h.DB.Delete(&deal).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Deal deleted"})
}

type StageMetric struct {
	StageID string  `json:"stage_id"`
	Name    string  `json:"name"`
	Count   int64   `json:"count"`
	Value   float64 `json:"value"`
}

type FunnelMetrics struct {
	Stages         []StageMetric `json:"stages"`
	TotalCount     int64         `json:"total_count"`
	TotalValue     float64       `json:"total_value"`
	WonCount       int64         `json:"won_count"`
	WonValue       float64       `json:"won_value"`
	LostCount      int64         `json:"lost_count"`
	LostValue      float64       `json:"lost_value"`
	ConversionRate float64       `json:"conversion_rate"`
}

// ComputeFunnelMetrics aggregates deal counts and values per stage and
// status. Conversion rate is won deals over closed deals.
func ComputeFunnelMetrics(db *gorm.DB, funnel models.Funnel) (FunnelMetrics, error) {
	var rows []struct {
		StageID string
		Status  string
		Count   int64
		Total   float64
	}
	err := db.Model(&models.Deal{}).
		Select("stage_id, status, COUNT(*) AS count, COALESCE(SUM(value), 0) AS total").
		Where("funnel_id = ?", funnel.ID).
		Group("stage_id, status").
		Scan(&rows).Error
	if err != nil {
		return FunnelMetrics{}, err
	}

	m := FunnelMetrics{Stages: make([]StageMetric, len(funnel.Stages))}
	idx := map[string]int{}
	for i, s := range funnel.Stages {
		m.Stages[i] = StageMetric{StageID: s.ID, Name: s.Name}
		idx[s.ID] = i
	}
	for _, r := range rows {
		if i, ok := idx[r.StageID]; ok {
			m.Stages[i].Count += r.Count
			m.Stages[i].Value += r.Total
		}
		m.TotalCount += r.Count
		m.TotalValue += r.Total
		switch r.Status {
		case models.DealWon:
			m.WonCount += r.Count
			m.WonValue += r.Total
		case models.DealLost:
			m.LostCount += r.Count
			m.LostValue += r.Total
		}
	}
	if closed := m.WonCount + m.LostCount; closed > 0 {
		m.ConversionRate = float64(m.WonCount) / float64(closed)
	}
	return m, nil
}

func (h *FunnelHandler) GetMetrics(c *gin.Context) {
	f, ok := h.loadFunnel(c, c.Param("id"))
	if !ok {
		return
	}
	m, err := ComputeFunnelMetrics(h.DB, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// ExportDealsXLSX writes the funnel's deals with their custom fields as
// extra columns.
func (h *FunnelHandler) ExportDealsXLSX(c *gin.Context) {
	f, ok := h.loadFunnel(c, c.Param("id"))
	if !ok {
		return
	}
	var defs []models.CustomFieldDefinition
	h.DB.Where("organization_id = ? AND target = ?", f.OrganizationID, "deal").Order("position").Find(&defs)
	var deals []models.Deal
	if err := h.DB.Where("funnel_id = ?", f.ID).Order("created_at").Find(&deals).Error; err != nil {
		respondError(c, err)
		return
	}

	stageNames := map[string]string{}
	for _, s := range f.Stages {
		stageNames[s.ID] = s.Name
	}
	header := []string{"Título", "Etapa", "Status", "Valor"}
	for _, d := range defs {
		header = append(header, d.Label)
	}
	rows := make([][]string, 0, len(deals))
	for _, d := range deals {
		row := []string{d.Title, stageNames[d.StageID], d.Status, strconv.FormatFloat(d.Value, 'f', 2, 64)}
		for _, def := range defs {
			v, ok := d.CustomFields[def.FieldKey]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, fmt.Sprint(v.Raw()))
		}
		rows = append(rows, row)
	}
	writeXLSX(c, "deals.xlsx", "Negócios", header, rows)
}
