package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func NewAPIServer(addr string, router *mux.Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
