package cardscan

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/card-scanner/internal/geometry"
	"github.com/zombor/card-scanner/internal/scanning"
)

var _ = Describe("Layout", func() {
	Describe("DefaultLayouts", func() {
		It("should hold the services card serial layout", func() {
			layouts := DefaultLayouts()
			Expect(layouts).To(HaveLen(1))
			Expect(layouts[0].Name).To(Equal(ServicesCardSerialLayout))
			Expect(layouts[0].Zones).To(Equal(scanning.ServicesCardSerialZones))
			Expect(layouts[0].MinCodesForAligned).To(Equal(1))
			Expect(layouts[0].LockReadingThreshold).To(Equal(scanning.DefaultLockReadingThreshold))
			Expect(layouts[0].MarginFactor).To(Equal(scanning.DefaultMarginFactor))
		})

		It("should not share zones with the package default", func() {
			layouts := DefaultLayouts()
			layouts[0].Zones[0].Box.X = 0.5
			Expect(scanning.ServicesCardSerialZones[0].Box.X).To(Equal(0.1))
		})
	})

	Describe("withDefaults", func() {
		It("should require one code when there are no zones", func() {
			Expect(withDefaults(Layout{Name: "free"}).MinCodesForAligned).To(Equal(1))
		})

		It("should default to one code per zone", func() {
			l := withDefaults(Layout{Name: "two", Zones: make([]scanning.ScanZone, 2)})
			Expect(l.MinCodesForAligned).To(Equal(2))
		})

		It("should keep explicit values", func() {
			l := withDefaults(Layout{Name: "x", MinCodesForAligned: 3, LockReadingThreshold: 2, MarginFactor: 0.1})
			Expect(l.MinCodesForAligned).To(Equal(3))
			Expect(l.LockReadingThreshold).To(Equal(2))
			Expect(l.MarginFactor).To(Equal(0.1))
		})
	})

	Describe("Validate", func() {
		It("should require a name", func() {
			Expect(Layout{}.Validate()).To(MatchError(ErrInvalidLayout))
		})

		It("should reject empty boxes", func() {
			l := Layout{Name: "x", Zones: []scanning.ScanZone{{Box: geometry.Rect{X: 0.1, Y: 0.1}}}}
			Expect(l.Validate()).To(MatchError(ErrInvalidLayout))
		})

		It("should reject boxes outside the unit square", func() {
			l := Layout{Name: "x", Zones: []scanning.ScanZone{{Box: geometry.Rect{X: 0.5, Y: 0.1, Width: 0.6, Height: 0.1}}}}
			Expect(l.Validate()).To(MatchError(ErrInvalidLayout))
		})

		It("should accept the default layout", func() {
			Expect(DefaultLayouts()[0].Validate()).To(Succeed())
		})
	})

	Describe("LoadLayouts", func() {
		var (
			path    string
			content string
			layouts []Layout
			err     error
		)

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "layouts.yaml")
		})

		JustBeforeEach(func() {
			Expect(os.WriteFile(path, []byte(content), 0600)).To(Succeed())
			layouts, err = LoadLayouts(path)
		})

		When("the file is valid", func() {
			BeforeEach(func() {
				content = `
layouts:
  - name: combo-back
    lock_reading_threshold: 3
    zones:
      - types: [code-39]
        box: {x: 0.1, y: 0.3, width: 0.8, height: 0.1}
      - types: [pdf-417]
        box: {x: 0.1, y: 0.5, width: 0.8, height: 0.4}
  - name: calibrate
    enable_scan_zones: true
`
			})

			It("should load every layout with defaults applied", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(layouts).To(HaveLen(2))

				Expect(layouts[0].Name).To(Equal("combo-back"))
				Expect(layouts[0].Zones).To(HaveLen(2))
				Expect(layouts[0].Zones[1].Types).To(Equal([]string{"pdf-417"}))
				Expect(layouts[0].Zones[1].Box).To(Equal(geometry.Rect{X: 0.1, Y: 0.5, Width: 0.8, Height: 0.4}))
				Expect(layouts[0].MinCodesForAligned).To(Equal(2))
				Expect(layouts[0].LockReadingThreshold).To(Equal(3))

				Expect(layouts[1].EnableScanZones).To(BeTrue())
				Expect(layouts[1].MinCodesForAligned).To(Equal(1))
			})
		})

		When("a layout is invalid", func() {
			BeforeEach(func() {
				content = "layouts:\n  - zones: []\n"
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ErrInvalidLayout))
			})
		})

		When("the file is not YAML", func() {
			BeforeEach(func() {
				content = "layouts: [unterminated"
			})

			It("should return a parse error", func() {
				Expect(err).To(MatchError(ContainSubstring("parsing layouts file")))
			})
		})
	})

	Describe("LoadLayouts with a missing file", func() {
		It("should return a read error", func() {
			_, err := LoadLayouts(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
			Expect(err).To(MatchError(ContainSubstring("reading layouts file")))
		})
	})
})
