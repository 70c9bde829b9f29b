package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"packclip/database"
	"packclip/storage"
)

// TriggerRequest asks for one packing item to be processed out of band
type TriggerRequest struct {
	PackingItemID string `json:"packing_item_id" binding:"required"`
}

// triggerProcessing validates the packing item and enqueues it for the
// queue worker. Rejections are returned synchronously; nothing is enqueued
// on error.
func (s *Server) triggerProcessing(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	item, err := s.db.GetPackingItem(req.PackingItemID)
	if err != nil {
		log.Printf("Trigger lookup failed for %s: %v", req.PackingItemID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up packing item"})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("packing item %s not found", req.PackingItemID),
		})
		return
	}
	if item.Status != database.PackingReadyForBatch {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("packing item %s is not ready for processing (status: %s)",
				req.PackingItemID, item.Status),
		})
		return
	}

	if !s.queue.Enqueue(req.PackingItemID) {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("packing item %s is already queued or processing", req.PackingItemID),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"packing_item_id": req.PackingItemID,
		"message":         "job queued for processing",
	})
}

// handleHealthCheck reports service, database and disk health
func (s *Server) handleHealthCheck(c *gin.Context) {
	healthResponse := gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"auto_batch": s.config.AutoBatchEnabled,
		"queue_size": s.queue.Size(),
	}

	// Check database connectivity with a cheap query
	if _, err := s.db.GetReadyPackingItems(1); err != nil {
		healthResponse["status"] = "unhealthy"
		healthResponse["database"] = gin.H{"status": "failed", "error": err.Error()}
		c.JSON(http.StatusServiceUnavailable, healthResponse)
		return
	}
	healthResponse["database"] = gin.H{"status": "connected"}

	if usage, err := storage.GetDiskUsageInfo(s.config.TempVideoDir); err == nil {
		healthResponse["disk"] = usage
	}

	c.JSON(http.StatusOK, healthResponse)
}
