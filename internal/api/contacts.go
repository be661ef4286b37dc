package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"zapcrm/internal/auth"
	"zapcrm/internal/fields"
	"zapcrm/internal/inbox"
	"zapcrm/internal/models"
	"zapcrm/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type ContactHandler struct {
	DB      *gorm.DB
	Gateway Gateway
}

func NewContactHandler(db *gorm.DB, gw Gateway) *ContactHandler {
	return &ContactHandler{DB: db, Gateway: gw}
}

func (h *ContactHandler) query(c *gin.Context) *gorm.DB {
	q := h.DB.Where("contacts.organization_id = ?", auth.OrgID(c))
	if s := strings.TrimSpace(c.Query("q")); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		digits := utils.OnlyDigits(s)
		if digits != "" {
			q = q.Where("LOWER(contacts.name) LIKE ? OR contacts.phone LIKE ?", like, "%"+digits+"%")
		} else {
			q = q.Where("LOWER(contacts.name) LIKE ?", like)
		}
	}
	if tag := c.Query("tag"); tag != "" {
		q = q.Where("contacts.id IN (?)", h.DB.Model(&models.TagAssignment{}).
			Select("target_id").
			Where("tag_id = ? AND target_type = ?", tag, models.TargetContact))
	}
	return q
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	limit, offset := page(c)
	var total int64
	if err := h.query(c).Model(&models.Contact{}).Count(&total).Error; err != nil {
		respondError(c, err)
		return
	}
	contacts := []models.Contact{}
	err := h.query(c).Order("contacts.created_at DESC").Limit(limit).Offset(offset).Find(&contacts).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contacts, "total": total})
}

func (h *ContactHandler) load(c *gin.Context) (models.Contact, bool) {
	var contact models.Contact
	err := h.DB.Where("organization_id = ? AND id = ?", auth.OrgID(c), c.Param("id")).First(&contact).Error
	if err != nil {
		respondError(c, err)
		return contact, false
	}
	return contact, true
}

func (h *ContactHandler) GetContact(c *gin.Context) {
	contact, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, contact)
}

type ContactRequest struct {
	Name         *string                `json:"name"`
	Phone        *string                `json:"phone"`
	CustomFields map[string]interface{} `json:"custom_fields"`
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Phone == nil || !utils.ValidateBrazilianPhone(*req.Phone) {
		badRequest(c, "invalid phone number")
		return
	}
	orgID := auth.OrgID(c)
	values, err := parseCustomFields(h.DB, orgID, "lead", req.CustomFields)
	if err != nil {
		respondError(c, err)
		return
	}
	name := ""
	if req.Name != nil {
		name = utils.ToTitleCase(strings.TrimSpace(*req.Name))
	}

	var contact models.Contact
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var n int64
		tx.Model(&models.Contact{}).
			Where("organization_id = ? AND phone = ?", orgID, utils.NormalizePhone(*req.Phone)).
			Count(&n)
		if n > 0 {
			return fmt.Errorf("%w: contact with this phone already exists", errConflict)
		}
		var err error
		contact, _, err = inbox.UpsertContact(tx, orgID, *req.Phone, name)
		if err != nil {
			return err
		}
		if len(values) > 0 {
			contact.CustomFields = values
			return tx.Model(&contact).Update("custom_fields", values).Error
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	contact, ok := h.load(c)
	if !ok {
		return
	}
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = utils.ToTitleCase(strings.TrimSpace(*req.Name))
	}
	if req.Phone != nil {
		if !utils.ValidateBrazilianPhone(*req.Phone) {
			badRequest(c, "invalid phone number")
			return
		}
		updates["phone"] = utils.NormalizePhone(*req.Phone)
	}
	if req.CustomFields != nil {
		values, err := parseCustomFields(h.DB, contact.OrganizationID, "lead", req.CustomFields)
		if err != nil {
			respondError(c, err)
			return
		}
		updates["custom_fields"] = mergeValues(contact.CustomFields, values, req.CustomFields)
	}
	if len(updates) > 0 {
		if err := h.DB.Model(&contact).Updates(updates).Error; err != nil {
			respondError(c, err)
			return
		}
	}
	if err := h.DB.First(&contact, "id = ?", contact.ID).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	contact, ok := h.load(c)
	if !ok {
		return
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("organization_id = ? AND target_type = ? AND target_id = ?", contact.OrganizationID, models.TargetContact, contact.ID).
			Delete(&models.TagAssignment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&contact).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact deleted"})
}

// RefreshAvatar fetches the profile picture through a connected instance.
func (h *ContactHandler) RefreshAvatar(c *gin.Context) {
	contact, ok := h.load(c)
	if !ok {
		return
	}
	inst, err := connectedInstance(h.DB, contact.OrganizationID, c.Query("instance_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	url, err := h.Gateway.FetchProfilePicture(c.Request.Context(), inst.InstanceName, contact.Phone)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.DB.Model(&contact).Update("avatar_url", url).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar_url": url})
}

var exportHeader = []string{"ID", "Nome", "Telefone", "Criado em"}

func (h *ContactHandler) exportRows(c *gin.Context) ([][]string, error) {
	var contacts []models.Contact
	if err := h.query(c).Order("contacts.display_id").Find(&contacts).Error; err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(contacts))
	for _, ct := range contacts {
		rows = append(rows, []string{
			strconv.Itoa(ct.DisplayID),
			ct.Name,
			utils.FormatPhoneNumber(ct.Phone),
			ct.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return rows, nil
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	rows, err := h.exportRows(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Status(http.StatusOK)
	w := csv.NewWriter(c.Writer)
	w.Write(exportHeader)
	w.WriteAll(rows)
}

func (h *ContactHandler) ExportContactsXLSX(c *gin.Context) {
	rows, err := h.exportRows(c)
	if err != nil {
		respondError(c, err)
		return
	}
	writeXLSX(c, "contacts.xlsx", "Contatos", exportHeader, rows)
}

// writeXLSX streams a single-sheet workbook.
func writeXLSX(c *gin.Context, filename, sheet string, header []string, rows [][]string) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", sheet)

	write := func(r int, values []string) error {
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, r)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(1, header); err != nil {
		respondError(c, err)
		return
	}
	for i, row := range rows {
		if err := write(i+2, row); err != nil {
			respondError(c, err)
			return
		}
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		c.Error(err)
	}
}

// parseCustomFields validates raw values against the organization's field
// definitions for target.
func parseCustomFields(db *gorm.DB, orgID, target string, raw map[string]interface{}) (fields.Values, error) {
	if len(raw) == 0 {
		return fields.Values{}, nil
	}
	var defs []models.CustomFieldDefinition
	if err := db.Where("organization_id = ? AND target = ?", orgID, target).Find(&defs).Error; err != nil {
		return nil, err
	}
	list := make([]fields.Definition, len(defs))
	for i, d := range defs {
		list[i] = d.Definition()
	}
	return fields.ParseAll(list, raw)
}

// mergeValues applies parsed values over current; keys sent as null are
// cleared.
func mergeValues(current, parsed fields.Values, raw map[string]interface{}) fields.Values {
	out := fields.Values{}
	for k, v := range current {
		out[k] = v
	}
	for k, r := range raw {
		if r == nil {
			delete(out, k)
		}
	}
	for k, v := range parsed {
		out[k] = v
	}
	return out
}
