package api

import (
	"github.com/starford/assetforge/internal/assetservice"
	"github.com/starford/assetforge/internal/models"
)

// AssetView is a source asset as exposed by the API (aliased from the model layer).
type AssetView = models.AssetView

// OutputFile is one file in the output directory.
type OutputFile = models.OutputFile

// StatusResponse is the build status overview (aliased from the service layer).
type StatusResponse = assetservice.Status

// AssetListResponse wraps paginated asset listings.
type AssetListResponse struct {
	Assets []AssetView `json:"assets" validate:"required"`
	Total  int         `json:"total" example:"42" validate:"required"`
}

// OutputListResponse wraps the output directory listing.
type OutputListResponse struct {
	Outputs []OutputFile `json:"outputs" validate:"required"`
}
