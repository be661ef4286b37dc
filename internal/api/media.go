package api

import (
	"net/http"
	"strconv"
	"strings"

	"zapcrm/internal/ai"
	"zapcrm/internal/auth"
	"zapcrm/internal/geo"
	"zapcrm/internal/models"
	"zapcrm/internal/speech"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// --- Speech ---

type SpeechHandler struct {
	Client *speech.Client
}

func NewSpeechHandler(client *speech.Client) *SpeechHandler {
	return &SpeechHandler{Client: client}
}

func (h *SpeechHandler) GetVoices(c *gin.Context) {
	voices, err := h.Client.ListVoices(c.Request.Context())
	if err != nil {
		respondUpstream(c, err)
		return
	}
	c.JSON(http.StatusOK, voices)
}

type SynthesizeRequest struct {
	VoiceID string `json:"voice_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

// Synthesize renders text to MP3, stores it and returns its public URL.
func (h *SpeechHandler) Synthesize(c *gin.Context) {
	var req SynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len([]rune(req.Text)) > 5000 {
		badRequest(c, "text must be at most 5000 characters")
		return
	}
	url, err := h.Client.SynthesizeToURL(c.Request.Context(), auth.OrgID(c), req.VoiceID, req.Text)
	if err != nil {
		respondUpstream(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// --- AI ---

// Completions are paid from the organization's token wallet. An empty
// wallet answers 402 before the gateway is called.
type AIHandler struct {
	DB     *gorm.DB
	Client *ai.Client
}

func NewAIHandler(db *gorm.DB, client *ai.Client) *AIHandler {
	return &AIHandler{DB: db, Client: client}
}

func (h *AIHandler) hasTokens(orgID string) (bool, error) {
	var wallet models.TokenWallet
	if err := h.DB.Where("organization_id = ?", orgID).Limit(1).Find(&wallet).Error; err != nil {
		return false, err
	}
	return wallet.Balance > 0, nil
}

// charge debits used tokens, flooring the balance at zero.
func (h *AIHandler) charge(orgID string, tokens int) {
	if tokens <= 0 {
		return
	}
	h.DB.Model(&models.TokenWallet{}).
		Where("organization_id = ?", orgID).
		Update("balance", gorm.Expr("CASE WHEN balance > ? THEN balance - ? ELSE 0 END", tokens, tokens))
}

func (h *AIHandler) precheck(c *gin.Context) bool {
	ok, err := h.hasTokens(auth.OrgID(c))
	if err != nil {
		respondError(c, err)
		return false
	}
	if !ok {
		respondError(c, ai.ErrPaymentRequired)
		return false
	}
	return true
}

type ClassifyRequest struct {
	Text    string   `json:"text" binding:"required"`
	Intents []string `json:"intents" binding:"required"`
}

func (h *AIHandler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !h.precheck(c) {
		return
	}
	intent, err := h.Client.ClassifyIntent(c.Request.Context(), req.Text, req.Intents)
	if err != nil {
		respondUpstream(c, err)
		return
	}
	h.charge(auth.OrgID(c), 1)
	c.JSON(http.StatusOK, gin.H{"intent": intent})
}

type GenerateRequest struct {
	System    string `json:"system"`
	Prompt    string `json:"prompt" binding:"required"`
	MaxTokens int    `json:"max_tokens"`
}

func (h *AIHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.MaxTokens <= 0 || req.MaxTokens > 4000 {
		req.MaxTokens = 500
	}
	if !h.precheck(c) {
		return
	}
	res, err := h.Client.Complete(c.Request.Context(), req.System, req.Prompt, req.MaxTokens)
	if err != nil {
		respondUpstream(c, err)
		return
	}
	h.charge(auth.OrgID(c), res.Tokens)
	c.JSON(http.StatusOK, res)
}

// --- Geo ---

type GeoHandler struct {
	Client *geo.Client
}

func NewGeoHandler(client *geo.Client) *GeoHandler {
	return &GeoHandler{Client: client}
}

func (h *GeoHandler) Municipalities(c *gin.Context) {
	var (
		regions []geo.Region
		err     error
	)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		regions, err = h.Client.Search(c.Request.Context(), c.Param("uf"), q)
	} else {
		regions, err = h.Client.Municipalities(c.Request.Context(), c.Param("uf"))
	}
	if err != nil {
		respondUpstream(c, err)
		return
	}
	if regions == nil {
		regions = []geo.Region{}
	}
	c.JSON(http.StatusOK, regions)
}

func (h *GeoHandler) Districts(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "invalid municipality id")
		return
	}
	regions, err := h.Client.Districts(c.Request.Context(), id)
	if err != nil {
		respondUpstream(c, err)
		return
	}
	c.JSON(http.StatusOK, regions)
}
