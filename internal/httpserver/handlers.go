package httpserver

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type nameQuery struct {
	Name string `form:"name" binding:"max=50"`
}

type idURI struct {
	ID int32 `uri:"id"`
}

// bindName reads the optional name filter; it writes a 422 and returns false
// when the filter is too long.
func bindName(c *gin.Context) (string, bool) {
	var q nameQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("name must be at most %d characters", maxNameLength)})
		return "", false
	}
	return q.Name, true
}

func bindID(c *gin.Context) (int32, bool) {
	var u idURI
	if err := c.ShouldBindUri(&u); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("id %q is not a valid 32-bit integer", c.Param("id"))})
		return 0, false
	}
	return u.ID, true
}

func (s *Server) internalError(c *gin.Context, err error, what string) {
	s.logger.Error().Err(err).Str("path", c.FullPath()).Msg(what)
	c.JSON(http.StatusInternalServerError, gin.H{"error": what})
}

func notFound(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) handlePeople(c *gin.Context) {
	name, ok := bindName(c)
	if !ok {
		return
	}
	people, err := s.reader.People(c.Request.Context(), name)
	if err != nil {
		s.internalError(c, err, "failed to list people")
		return
	}
	if name != "" && len(people) == 0 {
		notFound(c, "Person with name %s does not exist.", name)
		return
	}
	c.JSON(http.StatusOK, people)
}

func (s *Server) handlePerson(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	person, err := s.reader.PersonByID(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err, "failed to read person")
		return
	}
	if person == nil {
		notFound(c, "Person with id %d does not exist.", id)
		return
	}
	c.JSON(http.StatusOK, person)
}

func (s *Server) handlePersonEmployers(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	employers, err := s.reader.PersonEmployers(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err, "failed to list employers")
		return
	}
	if len(employers) == 0 {
		notFound(c, "Person with id %d does not exist.", id)
		return
	}
	c.JSON(http.StatusOK, employers)
}

func (s *Server) handleCompanies(c *gin.Context) {
	name, ok := bindName(c)
	if !ok {
		return
	}
	companies, err := s.reader.Companies(c.Request.Context(), name)
	if err != nil {
		s.internalError(c, err, "failed to list companies")
		return
	}
	if name != "" && len(companies) == 0 {
		notFound(c, "Company with name %s does not exist.", name)
		return
	}
	c.JSON(http.StatusOK, companies)
}

func (s *Server) handleCompany(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	company, err := s.reader.CompanyByID(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err, "failed to read company")
		return
	}
	if company == nil {
		notFound(c, "Company with id %d does not exist.", id)
		return
	}
	c.JSON(http.StatusOK, company)
}

func (s *Server) handleCompanyEmployees(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	employees, err := s.reader.CompanyEmployees(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err, "failed to list employees")
		return
	}
	if len(employees) == 0 {
		notFound(c, "Company with id %d does not exist.", id)
		return
	}
	c.JSON(http.StatusOK, employees)
}
