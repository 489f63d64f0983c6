package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/solarapi"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// ===================================
// Installation Availability Tool
// ===================================

type InstallationAvailabilityInput struct {
	ZipCode       string `json:"zipCode"`
	PreferredDate string `json:"preferredDate,omitempty"`
}

type InstallationAvailabilityOutput struct {
	InstallationAvailability *solarapi.InstallationAvailability `json:"installation_availability,omitempty"`
	Error                    string                             `json:"error,omitempty"`
}

func (r *Registry) createInstallationAvailabilityTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolInstallationAvailability,
			Desc: "Checks installation availability for a given location and preferred date.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"zipCode": {
					Type:     schema.String,
					Desc:     "The zip code of the installation location.",
					Required: true,
				},
				"preferredDate": {
					Type: schema.String,
					Desc: "Preferred installation date.",
				},
			}),
		},
		func(ctx context.Context, in *InstallationAvailabilityInput) (*InstallationAvailabilityOutput, error) {
			if in.ZipCode == "" {
				return &InstallationAvailabilityOutput{Error: "zipCode is required"}, nil
			}
			resp, err := r.api.InstallationAvailability(ctx, in.ZipCode, in.PreferredDate)
			if err != nil {
				logx.Warn().Err(err).Str("zipCode", in.ZipCode).Msg("error fetching installation availability")
				return &InstallationAvailabilityOutput{Error: fmt.Sprintf("An error occurred while fetching installation availability: %v", err)}, nil
			}
			return &InstallationAvailabilityOutput{InstallationAvailability: &resp.InstallationAvailability}, nil
		},
	)
}

// ===================================
// Savings Estimates Tool
// ===================================

type SavingsEstimatesInput struct {
	Location      string  `json:"location"`
	Usage         float64 `json:"usage"`
	PanelCapacity float64 `json:"panelCapacity"`
}

type SavingsEstimatesOutput struct {
	SavingsEstimates *solarapi.SavingsEstimates `json:"savings_estimates,omitempty"`
	Error            string                     `json:"error,omitempty"`
}

func (r *Registry) createSavingsEstimatesTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSavingsEstimates,
			Desc: "Provides estimated savings for a specific solar panel installation based on location, energy usage, and panel capacity.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"location": {
					Type:     schema.String,
					Desc:     "The user's location.",
					Required: true,
				},
				"usage": {
					Type:     schema.Number,
					Desc:     "The user's energy usage in kWh. Must be positive.",
					Required: true,
				},
				"panelCapacity": {
					Type:     schema.Number,
					Desc:     "The capacity of the solar panel in kW. Must be positive.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *SavingsEstimatesInput) (*SavingsEstimatesOutput, error) {
			if in.Usage <= 0 || in.PanelCapacity <= 0 {
				return &SavingsEstimatesOutput{Error: "usage and panelCapacity must be positive"}, nil
			}
			resp, err := r.api.SavingsEstimates(ctx, in.Location, in.Usage, in.PanelCapacity)
			if err != nil {
				logx.Warn().Err(err).Str("location", in.Location).Msg("error fetching savings estimates")
				return &SavingsEstimatesOutput{Error: fmt.Sprintf("An error occurred while fetching savings estimates: %v", err)}, nil
			}
			return &SavingsEstimatesOutput{SavingsEstimates: &resp.SavingsEstimates}, nil
		},
	)
}

// ===================================
// Solar Incentives Tool
// ===================================

type IncentivesInput struct {
	State string `json:"state"`
}

type IncentivesOutput struct {
	Incentives *solarapi.Incentives `json:"incentives,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func (r *Registry) createIncentivesTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSolarIncentives,
			Desc: "Fetches available solar incentives and tax benefits based on the user's state or location.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"state": {
					Type:     schema.String,
					Desc:     "The state for which to fetch incentives.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *IncentivesInput) (*IncentivesOutput, error) {
			if in.State == "" {
				return &IncentivesOutput{Error: "state is required"}, nil
			}
			resp, err := r.api.Incentives(ctx, in.State)
			if err != nil {
				logx.Warn().Err(err).Str("state", in.State).Msg("error fetching solar incentives")
				return &IncentivesOutput{Error: fmt.Sprintf("An error occurred while fetching solar incentives: %v", err)}, nil
			}
			return &IncentivesOutput{Incentives: &resp.Incentives}, nil
		},
	)
}
