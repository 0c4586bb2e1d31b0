package httpapi

import (
	"errors"
	"net/http"

	"assistec/backend/internal/cart"
	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
)

type addProductRequest struct {
	ProductID string `json:"product_id"`
}

type addServiceOrderRequest struct {
	ServiceOrderID string `json:"service_order_id"`
}

// updateLineRequest patches a line. Absent fields are left alone; qty 0
// removes the line.
type updateLineRequest struct {
	Qty         *int    `json:"qty"`
	WarrantyTag *string `json:"warranty_tag"`
}

type pricingModeRequest struct {
	Mode domain.PricingMode `json:"mode"`
}

type selectClientRequest struct {
	ClientRef string `json:"client_ref"`
}

func (a *API) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	c := a.carts.Create()
	a.reportOpenCarts()
	writeJSON(w, http.StatusCreated, map[string]any{"cart": c.Snapshot()})
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	a.withCart(w, r, http.StatusOK, func(*cart.Cart) error { return nil })
}

func (a *API) handleDeleteCart(w http.ResponseWriter, r *http.Request) {
	if !a.carts.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	a.reportOpenCarts()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req addProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}

	a.withCart(w, r, http.StatusCreated, func(c *cart.Cart) error {
		_, err := c.AddProduct(r.Context(), req.ProductID)
		return err
	})
}

func (a *API) handleAddServiceOrder(w http.ResponseWriter, r *http.Request) {
	var req addServiceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ServiceOrderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("service_order_id is required"))
		return
	}

	a.withCart(w, r, http.StatusCreated, func(c *cart.Cart) error {
		_, err := a.service.AddServiceOrderToCart(r.Context(), c, req.ServiceOrderID)
		return err
	})
}

func (a *API) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	var req updateLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lineID := r.PathValue("lineID")

	a.withCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		if req.WarrantyTag != nil {
			if err := c.SetWarrantyTag(lineID, *req.WarrantyTag); err != nil {
				return err
			}
		}
		if req.Qty != nil {
			return c.SetQuantity(r.Context(), lineID, *req.Qty)
		}
		return nil
	})
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	lineID := r.PathValue("lineID")
	a.withCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		return c.RemoveLine(lineID)
	})
}

func (a *API) handleSetDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountSpec
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.withCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		return c.SetDiscount(req.Mode, req.Value)
	})
}

func (a *API) handleSetPricingMode(w http.ResponseWriter, r *http.Request) {
	var req pricingModeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.withCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		return c.SetPricingMode(r.Context(), req.Mode)
	})
}

func (a *API) handleSelectClient(w http.ResponseWriter, r *http.Request) {
	var req selectClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.withCart(w, r, http.StatusOK, func(c *cart.Cart) error {
		c.SelectClient(req.ClientRef)
		return nil
	})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var sale domain.Sale
	err := a.carts.With(r.PathValue("id"), func(c *cart.Cart) error {
		var err error
		sale, err = a.service.Checkout(r.Context(), c, req)
		return err
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

// withCart runs fn under the cart's lock and answers with the resulting
// snapshot.
func (a *API) withCart(w http.ResponseWriter, r *http.Request, status int, fn func(c *cart.Cart) error) {
	var snapshot cart.Snapshot
	err := a.carts.With(r.PathValue("id"), func(c *cart.Cart) error {
		if err := fn(c); err != nil {
			return err
		}
		snapshot = c.Snapshot()
		return nil
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, map[string]any{"cart": snapshot})
}
