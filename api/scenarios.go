/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Loads built-in catalogs (or a caller-supplied one) into the running
  store so the API can be exercised end to end. Products get their
  opening stock through the ledger and identities go through the
  directory, so a loaded scenario is indistinguishable from real data.

SCENARIOS:
  - small-clinic:     A dozen products across units, one identity per role
  - reorder-pressure: Most products near or under their reorder point
  - restricted-staff: Explicit permission overrides and an inactive account

SEE ALSO:
  - factory/presets.go: Scenario catalogs
  - factory/seed.go: Seeding rules
*/
package api

import (
	"net/http"

	"github.com/warp/clinic-engine/factory"
	"go.uber.org/zap"
)

// ScenariosResponse lists the built-in scenarios.
type ScenariosResponse struct {
	Scenarios []factory.Scenario `json:"scenarios"`
	Current   string             `json:"current,omitempty"`
}

// LoadScenarioResponse reports what a load changed.
type LoadScenarioResponse struct {
	Scenario string              `json:"scenario"`
	Result   *factory.SeedResult `json:"result"`
}

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, ScenariosResponse{Scenarios: factory.Scenarios(), Current: current})
}

// LoadScenario seeds a built-in scenario or an inline catalog.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var req LoadScenarioRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	name := req.ScenarioID
	catalogJSON := req.Catalog
	switch {
	case req.ScenarioID != "":
		js, ok := factory.ScenarioJSON(req.ScenarioID)
		if !ok {
			writeError(w, http.StatusNotFound, "SCENARIO_NOT_FOUND", "unknown scenario: "+req.ScenarioID, nil)
			return
		}
		catalogJSON = js
	case req.Catalog != "":
		name = "custom"
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "scenarioId or catalog is required", nil)
		return
	}

	catalog, err := h.Catalogs.ParseCatalog(catalogJSON)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}

	result, err := h.Seeder.Apply(r.Context(), catalog, identity.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = name
	h.mu.Unlock()

	h.logger.Info("scenario loaded", zap.String("scenario", name), zap.String("by", identity.ID))
	writeJSON(w, http.StatusOK, LoadScenarioResponse{Scenario: name, Result: result})
}
