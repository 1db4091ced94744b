package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/grahak-ai/grahak/pkg/tools"
)

// Register wires the lookup client into the tool registry
func Register(registry *tools.Registry, client *Client) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if client == nil {
		return errors.New("lookup client is required")
	}

	defs := []tools.Definition{
		goldRatesTool(client),
		challanTool(client),
		pnrStatusTool(client),
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func goldRatesTool(client *Client) tools.Definition {
	return tools.Definition{
		Name:        "get_gold_rates",
		Description: "Get today's gold and silver rates in INR per gram.",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return client.GoldRates(ctx)
		},
	}
}

func challanTool(client *Client) tools.Definition {
	return tools.Definition{
		Name:        "get_challan",
		Description: "Get pending and paid traffic challans for a vehicle registration number.",
		Parameters: []tools.Parameter{
			{Name: "vehicleNumber", Type: "string", Description: "Vehicle registration number, e.g. MH12AB1234", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			vehicleNumber, _ := params["vehicleNumber"].(string)
			return client.Challans(ctx, vehicleNumber)
		},
	}
}

func pnrStatusTool(client *Client) tools.Definition {
	return tools.Definition{
		Name:        "get_pnr_status",
		Description: "Get Indian Railways reservation status for a 10-digit PNR.",
		Parameters: []tools.Parameter{
			{Name: "pnr", Type: "string", Description: "10-digit PNR number", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pnr, _ := params["pnr"].(string)
			return client.PNRStatus(ctx, pnr)
		},
	}
}
