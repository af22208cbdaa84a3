package formatter

import (
	"io"

	"github.com/goccy/go-json"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
)

// DeploySummary is the machine-readable deploy result handed to the
// application deployer
type DeploySummary struct {
	Stack           string                  `json:"stack"`
	Region          string                  `json:"region"`
	InstanceType    string                  `json:"instanceType"`
	InstanceID      string                  `json:"instanceId"`
	Zone            string                  `json:"zone"`
	PublicAddress   string                  `json:"publicAddress"`
	ImageID         string                  `json:"imageId"`
	PricePerHour    float64                 `json:"pricePerHour"`
	PriceEstimated  bool                    `json:"priceEstimated"`
	BudgetUsed      float64                 `json:"budgetUsed"`
	WithinBudget    bool                    `json:"withinBudget"`
	FileSystemID    string                  `json:"fileSystemId"`
	FileSystemDNS   string                  `json:"fileSystemDns"`
	LoadBalancerDNS string                  `json:"loadBalancerDns,omitempty"`
	CDNDomain       string                  `json:"cdnDomain,omitempty"`
	KeyPath         string                  `json:"keyPath,omitempty"`
	Resources       []models.ResourceRecord `json:"resources"`
}

// NewDeploySummary builds the summary of a completed deploy
func NewDeploySummary(stack string, sel models.SelectionResult, res provision.Result) DeploySummary {
	c := sel.Candidate
	return DeploySummary{
		Stack:           stack,
		Region:          c.Region,
		InstanceType:    c.InstanceType(),
		InstanceID:      res.Instance.InstanceID,
		Zone:            res.Instance.Zone,
		PublicAddress:   res.Instance.PublicAddress,
		ImageID:         c.Image.ID,
		PricePerHour:    c.PricePerHour,
		PriceEstimated:  c.Estimated,
		BudgetUsed:      sel.BudgetUsed,
		WithinBudget:    sel.WithinBudget,
		FileSystemID:    res.FileSystemID,
		FileSystemDNS:   res.FileSystemDNS,
		LoadBalancerDNS: res.LoadBalancerDNS,
		CDNDomain:       res.CDNDomain,
		KeyPath:         res.KeyPath,
		Resources:       res.Records,
	}
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
