package web

import (
	"net/http"

	ics "github.com/arran4/golang-ical"
	"github.com/gin-gonic/gin"

	"community-events/internal/model"
)

const productID = "-//community-events//eventsd//EN"

// calendar renders list as a published iCalendar feed.
func calendar(post string, list model.EventList) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("Events for " + post)

	for _, e := range list.SortedByStart() {
		ev := cal.AddEvent(e.ID + "@" + post)
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		ev.SetStartAt(e.StartTime)
		if e.EndTime != nil {
			ev.SetEndAt(*e.EndTime)
		}
		ev.SetCreatedTime(e.CreatedAt)
		ev.SetDtStampTime(e.CreatedAt)
		ev.AddProperty(ics.ComponentPropertyCategories, e.Category)
		ev.AddProperty(ics.ComponentProperty("X-CREATOR"), e.Creator)
	}
	return cal.Serialize()
}

func (s *Server) exportICS(c *gin.Context) {
	list, ok := s.load(c)
	if !ok {
		return
	}
	post := c.Param("postID")
	list = list.FilterCategory(c.Query("category"))

	c.Header("Content-Disposition", `attachment; filename="`+post+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(calendar(post, list)))
}
