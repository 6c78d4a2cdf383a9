package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/volgapavel/parsAZ/pkg/graph"
	"github.com/volgapavel/parsAZ/pkg/store"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.getHealth)

	api := s.echo.Group("/api")
	api.GET("/search", s.getSearch)
	api.GET("/persons/:key/neighbors", s.getNeighbors)
	api.GET("/stats", s.getStats)
	api.GET("/graph", s.getGraph)
}

func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type searchQuery struct {
	Query string `query:"q" validate:"required"`
	Limit int    `query:"limit" validate:"gte=0,lte=100"`
}

type searchResponse struct {
	Status  string              `json:"status"`
	Matches []graph.PersonMatch `json:"matches"`
}

func (s *Server) getSearch(c echo.Context) error {
	var q searchQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	matches, err := s.searcher.FindPersons(c.Request().Context(), q.Query, q.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if matches == nil {
		matches = []graph.PersonMatch{}
	}
	return c.JSON(http.StatusOK, searchResponse{Status: "ok", Matches: matches})
}

type neighborsQuery struct {
	Offset int `query:"offset" validate:"gte=0"`
	Limit  int `query:"limit" validate:"gte=0,lte=100"`
}

func (s *Server) getNeighbors(c echo.Context) error {
	var q neighborsQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	if q.Limit == 0 {
		q.Limit = 10
	}

	result, err := s.searcher.Neighbors(c.Request().Context(), c.Param("key"), q.Offset, q.Limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "person not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to rank neighbors")
	}
	if result.Neighbors == nil {
		result.Neighbors = []graph.Neighbor{}
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) getStats(c echo.Context) error {
	stats, err := s.storage.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute stats")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) getGraph(c echo.Context) error {
	snapshot, err := s.storage.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build snapshot")
	}
	return c.JSON(http.StatusOK, snapshot)
}
