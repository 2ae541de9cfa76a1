// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/huythanh0x/udemycoupons/internal/models"
)

// udemySource labels the extractor's own fetches in metrics and errors;
// Udemy is a shared upstream, not a coupon source of its own.
const udemySource = "udemy"

// couponAPIComponents is the course-landing-components selection we need:
// price_text carries pricing and campaign data, sidebar_container the
// preview assets.
const couponAPIComponents = "price_text,sidebar_container"

// courseAPIFields is the field selection for the course metadata API.
const courseAPIFields = "title,primary_category,primary_subcategory," +
	"avg_rating_recent,visible_instructors,locale,estimated_content_length," +
	"num_subscribers,num_reviews,description,headline,instructional_level"

// UdemyExtractor enriches a coupon URL into a raw record using Udemy's
// public APIs: the landing page yields the course id, the
// course-landing-components API the coupon state, the courses API the
// course metadata.
type UdemyExtractor struct {
	baseURL string
	fetcher *BreakerFetcher
}

// NewUdemyExtractor builds the extractor. baseURL overrides the Udemy host
// in tests; empty means production.
func NewUdemyExtractor(fetcher *BreakerFetcher, baseURL string) *UdemyExtractor {
	if baseURL == "" {
		baseURL = "https://www.udemy.com"
	}
	return &UdemyExtractor{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher}
}

// FetchRawCoupon resolves a coupon URL into a raw record. Any failure is a
// per-record failure; callers count it and move on.
func (e *UdemyExtractor) FetchRawCoupon(ctx context.Context, couponURL string) (models.RawCoupon, error) {
	couponCode, err := ExtractCouponCode(couponURL)
	if err != nil {
		return models.RawCoupon{}, err
	}

	courseID, err := e.extractCourseID(ctx, couponURL)
	if err != nil {
		return models.RawCoupon{}, err
	}

	raw := models.RawCoupon{
		CourseID:   courseID,
		CouponCode: couponCode,
		CouponURL:  couponURL,
		FetchedAt:  time.Now().UTC(),
	}

	if err := e.fillCouponData(ctx, &raw); err != nil {
		return models.RawCoupon{}, err
	}
	if err := e.fillCourseData(ctx, &raw); err != nil {
		return models.RawCoupon{}, err
	}

	return raw, nil
}

// ExtractCouponCode pulls the couponCode query parameter out of a coupon
// URL. Everything after couponCode= up to the next parameter is the code.
func ExtractCouponCode(couponURL string) (string, error) {
	_, after, found := strings.Cut(couponURL, "couponCode=")
	if !found || after == "" {
		return "", &ParseError{Source: udemySource, URL: couponURL, Detail: "no couponCode parameter"}
	}
	code, _, _ := strings.Cut(after, "&")
	return code, nil
}

// extractCourseID reads the numeric course id off the landing page. The id
// lives in the body's data-clp-course-id attribute; older page variants
// carry it on an element with id "udemy".
func (e *UdemyExtractor) extractCourseID(ctx context.Context, couponURL string) (int64, error) {
	doc, err := e.fetcher.GetDocument(ctx, couponURL)
	if err != nil {
		return 0, err
	}

	attr := doc.Find("body").AttrOr("data-clp-course-id", "")
	if attr == "" {
		attr = doc.Find("#udemy").AttrOr("data-clp-course-id", "")
	}
	id, err := strconv.ParseInt(attr, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ParseError{Source: udemySource, URL: couponURL, Detail: "no course id on landing page"}
	}
	return id, nil
}

// couponAPIResponse mirrors the course-landing-components payload.
type couponAPIResponse struct {
	PriceText struct {
		Data struct {
			PricingResult struct {
				Price struct {
					Amount float64 `json:"amount"`
				} `json:"price"`
				Campaign struct {
					EndTime       string `json:"end_time"`
					UsesRemaining *int   `json:"uses_remaining"`
				} `json:"campaign"`
			} `json:"pricing_result"`
		} `json:"data"`
	} `json:"price_text"`
	SidebarContainer struct {
		ComponentProps struct {
			IntroductionAsset struct {
				Images struct {
					Image750x422 string `json:"image_750x422"`
				} `json:"images"`
				CoursePreviewPath string `json:"course_preview_path"`
			} `json:"introductionAsset"`
		} `json:"componentProps"`
	} `json:"sidebar_container"`
}

func (e *UdemyExtractor) fillCouponData(ctx context.Context, raw *models.RawCoupon) error {
	url := fmt.Sprintf("%s/api-2.0/course-landing-components/%d/me/?couponCode=%s&components=%s",
		e.baseURL, raw.CourseID, raw.CouponCode, couponAPIComponents)

	body, err := e.fetcher.Get(ctx, url)
	if err != nil {
		return err
	}
	var resp couponAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &ParseError{Source: udemySource, URL: url, Detail: "invalid coupon API JSON", Err: err}
	}

	pricing := resp.PriceText.Data.PricingResult
	raw.Price = pricing.Price.Amount
	raw.ExpiresAt = parseCampaignEndTime(pricing.Campaign.EndTime)
	if pricing.Campaign.UsesRemaining != nil {
		raw.UsesRemaining = *pricing.Campaign.UsesRemaining
	} else {
		raw.UsesRemaining = models.UsesUnlimited
	}

	asset := resp.SidebarContainer.ComponentProps.IntroductionAsset
	raw.PreviewImage = asset.Images.Image750x422
	raw.PreviewVideo = asset.CoursePreviewPath
	return nil
}

// courseAPIResponse mirrors the courses API payload.
type courseAPIResponse struct {
	Title              string  `json:"title"`
	Headline           string  `json:"headline"`
	Description        string  `json:"description"`
	AvgRatingRecent    float64 `json:"avg_rating_recent"`
	NumReviews         int     `json:"num_reviews"`
	NumSubscribers     int     `json:"num_subscribers"`
	InstructionalLevel string  `json:"instructional_level"`
	EstContentLength   int     `json:"estimated_content_length"`
	PrimaryCategory    struct {
		Title string `json:"title"`
	} `json:"primary_category"`
	PrimarySubcategory struct {
		Title string `json:"title"`
	} `json:"primary_subcategory"`
	Locale struct {
		SimpleEnglishTitle string `json:"simple_english_title"`
	} `json:"locale"`
	VisibleInstructors []struct {
		Title string `json:"title"`
	} `json:"visible_instructors"`
}

func (e *UdemyExtractor) fillCourseData(ctx context.Context, raw *models.RawCoupon) error {
	url := fmt.Sprintf("%s/api-2.0/courses/%d/?fields[course]=%s", e.baseURL, raw.CourseID, courseAPIFields)

	body, err := e.fetcher.Get(ctx, url)
	if err != nil {
		return err
	}
	var resp courseAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &ParseError{Source: udemySource, URL: url, Detail: "invalid course API JSON", Err: err}
	}

	raw.Title = resp.Title
	raw.Headline = resp.Headline
	raw.Description = strings.ReplaceAll(strings.TrimSpace(resp.Description), "\n", "")
	raw.Category = resp.PrimaryCategory.Title
	raw.SubCategory = resp.PrimarySubcategory.Title
	raw.Language = resp.Locale.SimpleEnglishTitle
	raw.Level = resp.InstructionalLevel
	raw.Rating = resp.AvgRatingRecent
	raw.Reviews = resp.NumReviews
	raw.Students = resp.NumSubscribers
	raw.ContentLength = resp.EstContentLength
	if len(resp.VisibleInstructors) > 0 {
		raw.Author = resp.VisibleInstructors[0].Title
	}
	return nil
}

// parseCampaignEndTime accepts the formats Udemy has been seen emitting:
// ISO 8601 with a T, and the variant with a space before the offset
// ("2030-05-19 17:24:00+00:00"). A missing or unparseable end time maps to
// the far-future sentinel.
func parseCampaignEndTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.FarFutureExpiry
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return models.FarFutureExpiry
}
