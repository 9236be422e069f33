package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/agenthands/annobridge/internal/config"
	"github.com/agenthands/annobridge/internal/core"
	"github.com/agenthands/annobridge/internal/core/coco"
	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/compare"
	"github.com/agenthands/annobridge/internal/core/convert"
	"github.com/agenthands/annobridge/internal/core/model"
	"github.com/agenthands/annobridge/internal/core/sequence"
)

type Server struct {
	Bridge *core.Bridge
	Config *config.Config
}

func NewServer(bridge *core.Bridge, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if bridge == nil {
		bridge = core.NewBridge(nil, nil, cfg)
	}
	return &Server{Bridge: bridge, Config: cfg}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/convert/coco-to-samples", s.CocoToSamples)
	r.POST("/convert/samples-to-coco", s.SamplesToCoco)
	r.POST("/reconcile", s.Reconcile)
	r.POST("/compare", s.Compare)
	r.POST("/verify", s.Verify)
	r.POST("/sequences/uuid", s.SequenceUUID)

	r.POST("/datasets/:id/coco", s.ImportDataset)
	r.GET("/datasets/:id/coco", s.ExportDataset)

	return r
}

// fail writes the error response for err: taxonomy errors are the caller's
// fault (422), a missing store is 503, anything else is logged and hidden.
func (s *Server) fail(c *gin.Context, err error, msg string) {
	switch {
	case common.IsTaxonomy(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNoStore), errors.Is(err, core.ErrNoTable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// readCoco decodes a COCO document from the request body with required-field
// checks. Bodies that are not JSON at all get a 400 and ok is false.
func (s *Server) readCoco(c *gin.Context) (*model.CocoDataset, bool) {
	data, err := c.GetRawData()
	if err != nil || !json.Valid(data) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return nil, false
	}
	ds, err := coco.NewReader(coco.ReadOptions{}).Decode(data)
	if err != nil {
		s.fail(c, err, "Failed to read COCO dataset")
		return nil, false
	}
	return ds, true
}

func (s *Server) CocoToSamples(c *gin.Context) {
	ds, ok := s.readCoco(c)
	if !ok {
		return
	}

	opts := s.Bridge.Options(common.SplitList(c.Query("groups")), c.Query("group"))
	if v := c.Query("include_masks"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid include_masks"})
			return
		}
		opts.IncludeMasks = include
	}

	samples, err := convert.CocoToSamples(c.Request.Context(), ds, nil, opts)
	if err != nil {
		s.fail(c, err, "Failed to convert dataset")
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

type SamplesToCocoRequest struct {
	Samples []model.Sample `json:"samples"`
	Groups  []string       `json:"groups"`
}

func (s *Server) SamplesToCoco(c *gin.Context) {
	var req SamplesToCocoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ds, err := convert.SamplesToCoco(req.Samples, nil, s.Bridge.Options(req.Groups, ""))
	if err != nil {
		s.fail(c, err, "Failed to convert samples")
		return
	}
	c.JSON(http.StatusOK, ds)
}

type ReconcileRequest struct {
	Annotations []model.Annotation `json:"annotations"`
}

func (s *Server) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	groups, err := s.Bridge.Reconciler.Reconcile(req.Annotations)
	if err != nil {
		s.fail(c, err, "Failed to reconcile annotations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": groups})
}

type CompareRequest struct {
	Before    json.RawMessage `json:"before" binding:"required"`
	After     json.RawMessage `json:"after" binding:"required"`
	Tolerance *float64        `json:"tolerance"`
}

func (s *Server) Compare(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	before, after, ok := s.decodePair(c, req.Before, req.After)
	if !ok {
		return
	}

	tolerance := s.Config.Conversion.Tolerance
	if req.Tolerance != nil {
		tolerance = *req.Tolerance
	}
	report := compare.NewComparator(tolerance).CompareDatasets(*before, *after)
	c.JSON(http.StatusOK, report)
}

type VerifyRequest struct {
	Original json.RawMessage `json:"original" binding:"required"`
	Restored json.RawMessage `json:"restored" binding:"required"`
}

func (s *Server) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	original, restored, ok := s.decodePair(c, req.Original, req.Restored)
	if !ok {
		return
	}

	v := compare.Verify(*original, *restored)
	c.JSON(http.StatusOK, gin.H{
		"valid":        v.IsValid(),
		"summary":      v.Summary(),
		"verification": v,
	})
}

// decodePair runs both embedded COCO documents through the reader so they get
// the same required-field checks as a COCO request body.
func (s *Server) decodePair(c *gin.Context, a, b json.RawMessage) (*model.CocoDataset, *model.CocoDataset, bool) {
	reader := coco.NewReader(coco.ReadOptions{})
	first, err := reader.Decode(a)
	if err != nil {
		s.fail(c, err, "Failed to read COCO dataset")
		return nil, nil, false
	}
	second, err := reader.Decode(b)
	if err != nil {
		s.fail(c, err, "Failed to read COCO dataset")
		return nil, nil, false
	}
	return first, second, true
}

type SequenceUUIDRequest struct {
	DatasetID    string `json:"dataset_id" binding:"required"`
	SequenceName string `json:"sequence_name" binding:"required"`
}

func (s *Server) SequenceUUID(c *gin.Context) {
	var req SequenceUUIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": sequence.Derive(req.DatasetID, req.SequenceName).String()})
}

func (s *Server) ImportDataset(c *gin.Context) {
	ds, ok := s.readCoco(c)
	if !ok {
		return
	}

	n, err := s.Bridge.ImportCoco(c.Request.Context(), c.Param("id"), ds, c.Query("group"))
	if err != nil {
		s.fail(c, err, "Failed to import dataset")
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

func (s *Server) ExportDataset(c *gin.Context) {
	ds, err := s.Bridge.ExportCoco(c.Request.Context(), c.Param("id"), common.SplitList(c.Query("groups")))
	if err != nil {
		s.fail(c, err, "Failed to export dataset")
		return
	}
	c.JSON(http.StatusOK, ds)
}
