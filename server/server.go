/*
 * Copyright 2017 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/endsession"
	"stash.kopano.io/kc/kuma/uma"
)

// Server is our HTTP server implementation.
type Server struct {
	listenAddr string
	logger     logrus.FieldLogger

	endSession *endsession.Provider
	uma        *uma.Service

	mux http.Handler
}

// NewServer constructs a server from the provided parameters.
func NewServer(c *Config) (*Server, error) {
	if c.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if c.EndSession == nil || c.Uma == nil {
		return nil, fmt.Errorf("end session provider and uma service are required")
	}

	s := &Server{
		listenAddr: c.Config.ListenAddr,
		logger:     c.Config.Logger,

		endSession: c.EndSession,
		uma:        c.Uma,
	}

	return s, nil
}

// AddRoutes add the accociated Servers URL routes to the provided router with
// the provided context as reference.
func (s *Server) AddRoutes(ctx context.Context, router *mux.Router) {
	router.HandleFunc("/health-check", s.HealthCheckHandler)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.endSession.AddRoutes(ctx, router)
	s.uma.AddRoutes(ctx, router)
}

// ServeHTTP implements the http.HandlerFunc interface.
func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(rw, req)
}

// Serve starts all the accociated servers resources and listeners and blocks
// forever until signals or error occurs.
func (s *Server) Serve(ctx context.Context) error {
	serveCtx, serveCtxCancel := context.WithCancel(ctx)
	defer serveCtxCancel()

	logger := s.logger

	router := mux.NewRouter()
	s.AddRoutes(serveCtx, router)
	s.mux = router

	errCh := make(chan error, 2)
	exitCh := make(chan bool, 1)
	signalCh := make(chan os.Signal, 1)

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	srv := &http.Server{
		Handler: s,
	}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
		close(exitCh)
	}()
	logger.WithField("listenAddr", listener.Addr()).Infoln("ready to handle requests")

	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errCh:
		// breaks
	case reason := <-signalCh:
		logger.WithField("signal", reason).Warnln("received signal")
		// breaks
	case <-serveCtx.Done():
		// breaks
	}

	logger.Infoln("clean server shutdown start")
	shutDownCtx, shutDownCtxCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if shutdownErr := srv.Shutdown(shutDownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Warn("clean server shutdown failed")
	}
	shutDownCtxCancel()

	serveCtxCancel()
	<-exitCh

	return err
}
