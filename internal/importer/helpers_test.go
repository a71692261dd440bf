package importer

import (
	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
)

func newTestRecorder(client *db.Client) *audit.Recorder {
	return audit.NewRecorder(audit.NewRepository(client.DB()), config.AuditConfig{
		ArrayThreshold: 20,
		ArrayEdgeCount: 5,
		MaxDetailBytes: 8192,
		MaxActions:     50,
	}, nil)
}
